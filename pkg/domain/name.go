package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	dErrors "sos/pkg/domain-errors"
)

// Name is a fixed 32-byte identifier. The UTF-8 bytes of the human readable
// form occupy the start of the word and the remainder is zero filled, so
// "TEST" encodes as 0x5445535400...00.
type Name [32]byte

// maxNameLength leaves room for the terminating zero byte.
const maxNameLength = 31

// Registry keys used to wire the platform's components together.
var (
	NameFundManager            = MustName("FUND_MANAGER")
	NameDonation               = MustName("DONATION")
	NameDonationStorage        = MustName("DONATION_STORAGE")
	NameNFTDescriptor          = MustName("NFT_DESCRIPTOR")
	NameSOS                    = MustName("SOS")
	NameGovernor               = MustName("GOVERNOR")
	NameGnosisSafe             = MustName("GNOSIS_SAFE")
	NameGnosisSafeProxyFactory = MustName("GNOSIS_SAFE_PROXY_FACTORY")
	NameOracleConsumer         = MustName("ORACLE_CONSUMER")
	NameSOSOracle              = MustName("SOS_ORACLE")
	NameOracle                 = MustName("ORACLE")
	NameChainlinkToken         = MustName("CHAINLINK_TOKEN")
)

// NameFromString encodes s as a Name.
func NameFromString(s string) (Name, error) {
	var n Name
	if !utf8.ValidString(s) {
		return n, dErrors.New(dErrors.CodeInvalidInput, "name must be valid UTF-8")
	}
	if len(s) > maxNameLength {
		return n, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("name %q exceeds %d bytes", s, maxNameLength))
	}
	copy(n[:], s)
	return n, nil
}

// MustName is NameFromString for package level constants.
func MustName(s string) Name {
	n, err := NameFromString(s)
	if err != nil {
		panic(err)
	}
	return n
}

// ParseName accepts either a 0x-prefixed 32 byte hex word or a plain string.
func ParseName(s string) (Name, error) {
	if strings.HasPrefix(s, "0x") && len(s) == 66 {
		raw, err := hexutil.Decode(s)
		if err != nil {
			return Name{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid name hex")
		}
		var n Name
		copy(n[:], raw)
		return n, nil
	}
	return NameFromString(s)
}

// String returns the decoded text with trailing zero bytes removed.
func (n Name) String() string {
	return string(bytes.TrimRight(n[:], "\x00"))
}

// Hex returns the 0x-prefixed word.
func (n Name) Hex() string {
	return hexutil.Encode(n[:])
}

// Hash views the name as a go-ethereum hash.
func (n Name) Hash() common.Hash {
	return common.Hash(n)
}

func (n Name) IsZero() bool {
	return n == Name{}
}

func (n Name) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.String())
}

func (n *Name) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "name must be a string")
	}
	parsed, err := ParseName(s)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// Names converts a list of strings, failing on the first invalid entry.
func Names(values ...string) ([]Name, error) {
	out := make([]Name, 0, len(values))
	for _, v := range values {
		n, err := ParseName(v)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
