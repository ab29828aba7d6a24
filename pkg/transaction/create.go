package transaction

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/GwanWingYan/vaultsign/pkg/wallet"
)

// NativeAssetID is the base asset fees are paid in.
const NativeAssetID = "0x0000000000000000000000000000000000000000000000000000000000000000"

var (
	hexAddress    = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	bech32Address = regexp.MustCompile(`^fuel1[02-9ac-hj-np-z]{58}$`)
)

// ValidAddress accepts a 32 byte hex address or its fuel bech32 form.
func ValidAddress(addr string) bool {
	return hexAddress.MatchString(addr) || bech32Address.MatchString(strings.ToLower(addr))
}

// TransferDraft is one line of the create form. Fee is optional and always
// charged in the native asset.
type TransferDraft struct {
	AssetID string `json:"assetId"`
	Amount  string `json:"amount"`
	To      string `json:"to"`
	Fee     string `json:"fee,omitempty"`
}

// Draft is a transaction the user is about to propose.
type Draft struct {
	Name      string          `json:"name"`
	Transfers []TransferDraft `json:"assets"`
}

// FieldError points at the form field that failed.
type FieldError struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("%s #%d: %s", e.Field, e.Index, e.Message)
}

// ValidationError collects every problem found in a draft.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	return "invalid transaction: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(index int, field, msg string) {
	e.Fields = append(e.Fields, FieldError{Index: index, Field: field, Message: msg})
}

// Balances maps asset id to the vault's spendable amount.
type Balances map[string]*big.Rat

// ParseAmount reads a decimal amount. Only positive values are valid.
func ParseAmount(s string) (*big.Rat, bool) {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, "eE/") {
		return nil, false
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok || r.Sign() <= 0 {
		return nil, false
	}
	return r, true
}

// Validate checks a draft against the vault balances before anything is sent
// to the backend. Each line must fit the balance on its own and the sum of
// all lines per asset, fees included, must fit too.
func (d Draft) Validate(balances Balances) error {
	return d.validate(balances, true)
}

// CheckForm runs every check that needs no balances, so a malformed draft is
// rejected before the vault balances are fetched.
func (d Draft) CheckForm() error {
	return d.validate(nil, false)
}

func (d Draft) validate(balances Balances, checkBalance bool) error {
	verr := &ValidationError{}
	if strings.TrimSpace(d.Name) == "" {
		verr.add(-1, "name", "Name is required.")
	}
	if len(d.Transfers) == 0 {
		verr.add(-1, "transfers", "At least one transfer is required.")
	}

	totals := make(map[string]*big.Rat)
	charge := func(asset string, amount *big.Rat) {
		if totals[asset] == nil {
			totals[asset] = new(big.Rat)
		}
		totals[asset].Add(totals[asset], amount)
	}

	for i, t := range d.Transfers {
		if t.AssetID == "" {
			verr.add(i, "asset", "Asset is required.")
		}
		switch {
		case t.To == "":
			verr.add(i, "to", "Address is required.")
		case !ValidAddress(t.To):
			verr.add(i, "to", "Address invalid.")
		}

		amount, ok := ParseAmount(t.Amount)
		if !ok {
			verr.add(i, "amount", "Amount is required.")
			continue
		}
		var fee *big.Rat
		if t.Fee != "" {
			if fee, ok = ParseAmount(t.Fee); !ok {
				verr.add(i, "fee", "Fee invalid.")
				continue
			}
		}
		if t.AssetID == "" || !checkBalance {
			continue
		}

		if !fits(balances, t.AssetID, amount, fee) {
			verr.add(i, "amount", "Not enough balance.")
		}
		charge(t.AssetID, amount)
		if fee != nil {
			charge(NativeAssetID, fee)
		}
	}

	for i, t := range d.Transfers {
		total, ok := totals[t.AssetID]
		if !ok {
			continue
		}
		if total.Cmp(balance(balances, t.AssetID)) > 0 {
			verr.add(i, "amount", "Not enough balance.")
		}
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

func fits(balances Balances, asset string, amount, fee *big.Rat) bool {
	if fee == nil {
		return amount.Cmp(balance(balances, asset)) <= 0
	}
	if asset == NativeAssetID {
		sum := new(big.Rat).Add(amount, fee)
		return sum.Cmp(balance(balances, asset)) <= 0
	}
	return amount.Cmp(balance(balances, asset)) <= 0 &&
		fee.Cmp(balance(balances, NativeAssetID)) <= 0
}

func balance(balances Balances, asset string) *big.Rat {
	if b, ok := balances[asset]; ok && b != nil {
		return b
	}
	return new(big.Rat)
}

// ParseBalances reads vault balances as the backend reports them. Amounts
// that are zero or unreadable count as nothing.
func ParseBalances(raw map[string]string) Balances {
	res := make(Balances, len(raw))
	for asset, amount := range raw {
		if r, ok := new(big.Rat).SetString(strings.TrimSpace(amount)); ok && r.Sign() > 0 {
			res[asset] = r
		}
	}
	return res
}

// Assets converts a validated draft into the transfer list the backend takes.
func (d Draft) Assets() []wallet.Asset {
	res := make([]wallet.Asset, 0, len(d.Transfers))
	for _, t := range d.Transfers {
		res = append(res, wallet.Asset{AssetID: t.AssetID, Amount: t.Amount, To: t.To})
	}
	return res
}

// ValidateSigners checks a vault's signer set: every address valid and
// distinct, and a threshold between one and the number of signers.
func ValidateSigners(signers []string, required int) error {
	verr := &ValidationError{}
	seen := make(map[string]bool, len(signers))
	for i, s := range signers {
		switch key := strings.ToLower(s); {
		case !ValidAddress(s):
			verr.add(i, "address", "Address invalid.")
		case seen[key]:
			verr.add(i, "address", "Address already added.")
		default:
			seen[key] = true
		}
	}
	if required < 1 || required > len(signers) {
		verr.add(-1, "minSigners", fmt.Sprintf("Required signers must be between 1 and %d.", len(signers)))
	}
	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}
