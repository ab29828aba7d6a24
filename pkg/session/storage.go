package session

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type NetworkType string

const (
	NetworkMainnet      NetworkType = "mainnet"
	NetworkTestnet      NetworkType = "testnet"
	NetworkDev          NetworkType = "dev"
	NetworkLocalStorage NetworkType = "localstorage"
)

type Network struct {
	Name       string      `json:"name" yaml:"name"`
	URL        string      `json:"url" yaml:"url"`
	ChainID    int         `json:"chainId" yaml:"chainId"`
	Identifier NetworkType `json:"identifier" yaml:"identifier"`
	Explorer   string      `json:"explorer,omitempty" yaml:"explorer"`
}

type state struct {
	HardwareID     string                `json:"hardwareId,omitempty"`
	BalanceVisible bool                  `json:"balanceVisible"`
	Networks       []Network             `json:"networks,omitempty"`
	Cookies        map[CookieName]Cookie `json:"cookies,omitempty"`
}

// FileStorage is the durable local storage of the client, kept as one JSON
// document that is replaced atomically on every write.
type FileStorage struct {
	path     string
	defaults []Network

	mu    sync.Mutex
	state state
}

// OpenFileStorage reads path if it exists. defaults seed the network list the
// first time it is read empty.
func OpenFileStorage(path string, defaults []Network) (*FileStorage, error) {
	s := &FileStorage{path: path, defaults: append([]Network(nil), defaults...)}
	raw, err := ioutil.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return s, nil
	case err != nil:
		return nil, errors.Wrapf(err, "error reading state file %s", path)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.state); err != nil {
		return nil, errors.Wrapf(err, "error parsing state file %s", path)
	}
	return s, nil
}

func (s *FileStorage) save() error {
	raw, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "error encoding state")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return errors.Wrapf(err, "error creating state dir for %s", s.path)
	}
	if err := renameio.WriteFile(s.path, raw, 0600); err != nil {
		return errors.Wrapf(err, "error writing state file %s", s.path)
	}
	return nil
}

// HardwareID identifies this device. It is generated on first use.
func (s *FileStorage) HardwareID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.HardwareID != "" {
		return s.state.HardwareID, nil
	}
	s.state.HardwareID = uuid.NewString()
	if err := s.save(); err != nil {
		s.state.HardwareID = ""
		return "", err
	}
	return s.state.HardwareID, nil
}

func (s *FileStorage) BalanceVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.BalanceVisible
}

func (s *FileStorage) SetBalanceVisible(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.BalanceVisible = v
	return s.save()
}

// Networks lists the custom networks, seeding the defaults when empty.
func (s *FileStorage) Networks() ([]Network, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seed() {
		if err := s.save(); err != nil {
			return nil, err
		}
	}
	return append([]Network(nil), s.state.Networks...), nil
}

// seed fills an empty network list with the defaults. Callers hold mu.
func (s *FileStorage) seed() bool {
	if len(s.state.Networks) > 0 || len(s.defaults) == 0 {
		return false
	}
	s.state.Networks = append([]Network(nil), s.defaults...)
	return true
}

// CreateNetwork adds n unless a network with the same url exists. It reports
// whether n was added.
func (s *FileStorage) CreateNetwork(n Network) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seed()
	for _, existing := range s.state.Networks {
		if existing.URL == n.URL {
			return false, nil
		}
	}
	s.state.Networks = append(s.state.Networks, n)
	return true, s.save()
}

func (s *FileStorage) DeleteNetwork(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.state.Networks[:0:0]
	for _, n := range s.state.Networks {
		if n.URL != url {
			kept = append(kept, n)
		}
	}
	s.state.Networks = kept
	return s.save()
}

func (s *FileStorage) LoadCookies() (map[CookieName]Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make(map[CookieName]Cookie, len(s.state.Cookies))
	for k, v := range s.state.Cookies {
		res[k] = v
	}
	return res, nil
}

func (s *FileStorage) SaveCookies(cookies map[CookieName]Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Cookies = cookies
	return s.save()
}
