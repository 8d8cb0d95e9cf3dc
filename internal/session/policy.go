package session

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/redmonkez12/loyalty-card/internal/identity"
)

// Policy lists identities that skip email verification, matched by email
// or identity ID. It is meant for test and demo accounts.
type Policy struct {
	exempt map[string]struct{}
}

type policyFile struct {
	Verification struct {
		Exempt []string `yaml:"exempt"`
	} `yaml:"verification"`
}

func NewPolicy(exempt ...string) *Policy {
	p := &Policy{exempt: make(map[string]struct{}, len(exempt))}
	for _, e := range exempt {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			p.exempt[e] = struct{}{}
		}
	}
	return p
}

// LoadPolicy reads a YAML policy file. An empty path yields an empty policy.
//
//	verification:
//	  exempt:
//	    - demo@example.com
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return NewPolicy(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read verification policy: %w", err)
	}

	return ParsePolicy(data)
}

func ParsePolicy(data []byte) (*Policy, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse verification policy: %w", err)
	}
	return NewPolicy(f.Verification.Exempt...), nil
}

// IsExempt is safe to call on a nil policy
func (p *Policy) IsExempt(ident *identity.Identity) bool {
	if p == nil || ident == nil || len(p.exempt) == 0 {
		return false
	}
	if _, ok := p.exempt[strings.ToLower(ident.Email)]; ok {
		return true
	}
	_, ok := p.exempt[strings.ToLower(ident.ID)]
	return ok
}

func (p *Policy) Len() int {
	if p == nil {
		return 0
	}
	return len(p.exempt)
}
