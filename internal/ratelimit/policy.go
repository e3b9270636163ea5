package ratelimit

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Policy lists the windows enforced on the visit redirect, grouped by the
// identity they are keyed on.
type Policy struct {
	// IP rules are keyed on the source address.
	IP []Rule `yaml:"ip"`
	// Visitor rules are keyed on the visitor cookie token.
	Visitor []Rule `yaml:"visitor"`
	// VisitorCampaign rules are keyed on visitor + campaign + promoter.
	VisitorCampaign []Rule `yaml:"visitor_campaign"`
	// IPCampaign rules are keyed on source address + campaign + promoter.
	IPCampaign []Rule `yaml:"ip_campaign"`
}

// DefaultPolicy returns the redirect limits used when no policy file is set.
func DefaultPolicy() Policy {
	return Policy{
		IP: []Rule{
			{Suffix: "s", Window: time.Second, Max: 10, Message: "Too many requests from this address, slow down."},
			{Suffix: "m", Window: time.Minute, Max: 120, Message: "Too many requests from this address, try again in a minute."},
		},
		Visitor: []Rule{
			{Suffix: "s", Window: time.Second, Max: 5, Message: "Too many requests, slow down."},
			{Suffix: "m", Window: time.Minute, Max: 60, Message: "Too many requests, try again in a minute."},
		},
		VisitorCampaign: []Rule{
			{Suffix: "m", Window: time.Minute, Max: 10, Message: "Too many visits to this campaign link, try again in a minute."},
		},
		IPCampaign: []Rule{
			{Suffix: "m", Window: time.Minute, Max: 20, Message: "Too many visits to this campaign link from this address."},
		},
	}
}

// LoadPolicy reads a YAML policy file. Sections missing from the file keep
// their defaults.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, eris.Wrapf(err, "ratelimit: read policy %s", path)
	}

	var file Policy
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Policy{}, eris.Wrapf(err, "ratelimit: parse policy %s", path)
	}
	if file.IP != nil {
		p.IP = file.IP
	}
	if file.Visitor != nil {
		p.Visitor = file.Visitor
	}
	if file.VisitorCampaign != nil {
		p.VisitorCampaign = file.VisitorCampaign
	}
	if file.IPCampaign != nil {
		p.IPCampaign = file.IPCampaign
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks every rule in the policy.
func (p Policy) Validate() error {
	for _, group := range [][]Rule{p.IP, p.Visitor, p.VisitorCampaign, p.IPCampaign} {
		for _, r := range group {
			if err := r.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Visit identifies one redirect request for rate limiting.
type Visit struct {
	SourceAddress string
	VisitorToken  string
	CampaignID    string
	PromoterID    string
}

// Enforce checks every rule for v, address rules first. It returns a
// *LimitError on the first violated rule.
func (p Policy) Enforce(ctx context.Context, l Limiter, v Visit) error {
	visitor := v.VisitorToken
	if visitor == "" {
		visitor = AnonymousVisitor
	}
	pair := v.CampaignID + ":" + v.PromoterID

	checks := []struct {
		base  string
		rules []Rule
	}{
		{"ip:" + v.SourceAddress, p.IP},
		{"visitor:" + visitor, p.Visitor},
		{"visit:" + visitor + ":" + pair, p.VisitorCampaign},
		{"ipvisit:" + v.SourceAddress + ":" + pair, p.IPCampaign},
	}
	for _, c := range checks {
		if err := CheckMany(ctx, l, c.base, c.rules); err != nil {
			return err
		}
	}
	return nil
}
