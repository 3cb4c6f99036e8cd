package dispatcher

import (
	"fmt"
	"strings"

	"github.com/defiguard/internal/chain"
	apperrors "github.com/defiguard/internal/errors"
	"github.com/defiguard/internal/wallet"
)

// MaxChains is the largest chain list a single registration may carry
const MaxChains = 10

// Registration is a parsed register command
type Registration struct {
	Wallet wallet.Address
	Chains []string
}

// UsageError is returned when the command has too few arguments
type UsageError struct{}

func (e *UsageError) Error() string {
	return "expected: register <wallet_address> <chain1,chain2,...>"
}

func (e *UsageError) Category() apperrors.ErrorCategory { return apperrors.CategoryValidation }

// TooManyChainsError is returned when more than MaxChains distinct chains are listed
type TooManyChainsError struct {
	Count int
}

func (e *TooManyChainsError) Error() string {
	return fmt.Sprintf("too many chains: %d given, at most %d allowed", e.Count, MaxChains)
}

func (e *TooManyChainsError) Category() apperrors.ErrorCategory { return apperrors.CategoryValidation }

// UnknownChainError names a chain token missing from the registry
type UnknownChainError struct {
	Token       string
	Suggestions []string
}

func (e *UnknownChainError) Error() string {
	msg := fmt.Sprintf("unsupported chain %q", e.Token)
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(e.Suggestions, ", "))
	}
	return msg
}

func (e *UnknownChainError) Category() apperrors.ErrorCategory { return apperrors.CategoryValidation }

// ParseError aggregates every problem found in one register command
type ParseError struct {
	Problems []error
}

func (e *ParseError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return "invalid register command: " + strings.Join(msgs, "; ")
}

func (e *ParseError) Unwrap() []error { return e.Problems }

func (e *ParseError) Category() apperrors.ErrorCategory { return apperrors.CategoryValidation }

// ParseRegister parses "register <wallet> <chains...>". Chains may be comma or space
// separated; they are lower-cased and de-duplicated in first-seen order.
// Every problem in the command is reported, not only the first.
func ParseRegister(registry *chain.Registry, text string) (*Registration, error) {
	fields := strings.Fields(text)
	if len(fields) < 3 {
		return nil, &ParseError{Problems: []error{&UsageError{}}}
	}

	var problems []error

	addr, err := wallet.Validate(fields[1])
	if err != nil {
		problems = append(problems, err)
	}

	seen := make(map[string]struct{})
	var chains []string
	for _, field := range fields[2:] {
		for _, tok := range strings.Split(field, ",") {
			tok = strings.ToLower(strings.TrimSpace(tok))
			if tok == "" {
				continue
			}
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			chains = append(chains, tok)
		}
	}

	if len(chains) == 0 {
		problems = append(problems, &UsageError{})
	}
	if len(chains) > MaxChains {
		problems = append(problems, &TooManyChainsError{Count: len(chains)})
	}
	for _, c := range chains {
		if !registry.Has(c) {
			problems = append(problems, &UnknownChainError{Token: c, Suggestions: registry.Suggest(c)})
		}
	}

	if len(problems) > 0 {
		return nil, &ParseError{Problems: problems}
	}
	return &Registration{Wallet: addr, Chains: chains}, nil
}
