package dispatcher

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defiguard/internal/chain"
	apperrors "github.com/defiguard/internal/errors"
	"github.com/defiguard/internal/wallet"
)

const testWallet = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"

func wideRegistry(t *testing.T, n int) *chain.Registry {
	t.Helper()
	configs := make([]chain.Config, n)
	for i := range configs {
		configs[i] = chain.Config{
			Key:          fmt.Sprintf("chain%02d", i),
			Name:         fmt.Sprintf("Chain %d", i),
			ChainID:      int64(1000 + i),
			RPCEndpoints: []string{"https://rpc.invalid"},
		}
	}
	r, err := chain.NewRegistry(configs)
	require.NoError(t, err)
	return r
}

func TestParseRegisterDeduplicatesChains(t *testing.T) {
	reg, err := ParseRegister(chain.DefaultRegistry(), "register "+testWallet+" ethereum,ethereum,polygon")
	require.NoError(t, err)
	assert.Equal(t, []string{"ethereum", "polygon"}, reg.Chains)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", reg.Wallet.Hex())
}

func TestParseRegisterAcceptsSpaceSeparatedChains(t *testing.T) {
	reg, err := ParseRegister(chain.DefaultRegistry(), "  register "+testWallet+"  Polygon BSC,base ")
	require.NoError(t, err)
	assert.Equal(t, []string{"polygon", "bsc", "base"}, reg.Chains)
}

func TestParseRegisterTooManyChains(t *testing.T) {
	registry := wideRegistry(t, 11)
	_, err := ParseRegister(registry, "register "+testWallet+" "+strings.Join(registry.Keys(), ","))
	require.Error(t, err)

	var tooMany *TooManyChainsError
	require.True(t, errors.As(err, &tooMany))
	assert.Equal(t, 11, tooMany.Count)

	_, err = ParseRegister(registry, "register "+testWallet+" "+strings.Join(registry.Keys()[:10], ","))
	assert.NoError(t, err)
}

func TestParseRegisterWrongLengthWallet(t *testing.T) {
	_, err := ParseRegister(chain.DefaultRegistry(), "register "+testWallet[:41]+" ethereum")
	require.Error(t, err)

	var fe *wallet.FormatError
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe.Error(), "expected 42 characters")
	assert.Contains(t, fe.Error(), "got 41")
	assert.Equal(t, apperrors.CategoryValidation, apperrors.Categorize(err))
}

func TestParseRegisterReportsEveryProblem(t *testing.T) {
	_, err := ParseRegister(chain.DefaultRegistry(), "register 0x123 ethereum,eth,solana")
	require.Error(t, err)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	require.Len(t, pe.Problems, 3)

	var fe *wallet.FormatError
	assert.True(t, errors.As(err, &fe))

	var unknown *UnknownChainError
	require.True(t, errors.As(pe.Problems[1], &unknown))
	assert.Equal(t, "eth", unknown.Token)
	assert.Equal(t, []string{"ethereum"}, unknown.Suggestions)
	assert.Contains(t, pe.Problems[2].Error(), `"solana"`)
}

func TestParseRegisterUsage(t *testing.T) {
	for _, text := range []string{"register", "register " + testWallet, "register " + testWallet + " ,,"} {
		_, err := ParseRegister(chain.DefaultRegistry(), text)
		var usage *UsageError
		assert.True(t, errors.As(err, &usage), text)
	}
}

func TestParseRegisterProperties(t *testing.T) {
	registry := wideRegistry(t, 14)
	keys := registry.Keys()
	properties := gopter.NewProperties(nil)

	properties.Property("chains are unique, ordered by first use and capped", prop.ForAll(
		func(picks []int) bool {
			tokens := make([]string, len(picks))
			for i, p := range picks {
				tokens[i] = keys[p]
			}
			var want []string
			seen := map[string]bool{}
			for _, tok := range tokens {
				if !seen[tok] {
					seen[tok] = true
					want = append(want, tok)
				}
			}

			reg, err := ParseRegister(registry, "register "+testWallet+" "+strings.Join(tokens, ","))
			if len(want) > MaxChains {
				var tooMany *TooManyChainsError
				return errors.As(err, &tooMany) && tooMany.Count == len(want)
			}
			return err == nil && assert.ObjectsAreEqual(want, reg.Chains)
		},
		gen.IntRange(1, 16).FlatMap(func(n interface{}) gopter.Gen {
			return gen.SliceOfN(n.(int), gen.IntRange(0, len(keys)-1))
		}, reflect.TypeOf([]int{})),
	))

	properties.TestingRun(t)
}
