package migrate

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
)

// DepTypeTektonBundle marks the Renovate dependency type handled by this
// tool; upgrades of any other type are ignored.
const DepTypeTektonBundle = "tekton-bundle"

// KonfluxBundlePrefix is the repository prefix of Konflux-published task
// bundles, the only bundles that carry migration attachments.
const KonfluxBundlePrefix = "quay.io/konflux-ci/tekton-catalog/"

// EnvLocalTest lifts the Konflux repository prefix filter, for exercising
// the tool against a local registry.
const EnvLocalTest = "PMT_LOCAL_TEST"

var sha256DigestRE = regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)

// InvalidUpgradesError reports malformed upgrades input. It is an input
// validation failure, raised before any network call.
type InvalidUpgradesError struct {
	Reason string
}

func (e *InvalidUpgradesError) Error() string {
	return "invalid upgrades data: " + e.Reason
}

// Upgrade is one entry of the Renovate upgrades envelope.
type Upgrade struct {
	DepName       string   `json:"depName"`
	CurrentValue  string   `json:"currentValue"`
	CurrentDigest string   `json:"currentDigest"`
	NewValue      string   `json:"newValue"`
	NewDigest     string   `json:"newDigest"`
	PackageFile   string   `json:"packageFile"`
	ParentDir     string   `json:"parentDir"`
	DepTypes      []string `json:"depTypes"`
}

func (u *Upgrade) validate(i int) error {
	required := []struct{ name, value string }{
		{"depName", u.DepName},
		{"currentValue", u.CurrentValue},
		{"currentDigest", u.CurrentDigest},
		{"newValue", u.NewValue},
		{"newDigest", u.NewDigest},
		{"packageFile", u.PackageFile},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return &InvalidUpgradesError{Reason: fmt.Sprintf("upgrade %d: %s is missing or empty", i, f.name)}
		}
	}
	for _, d := range []struct{ name, value string }{
		{"currentDigest", u.CurrentDigest},
		{"newDigest", u.NewDigest},
	} {
		if !sha256DigestRE.MatchString(d.value) {
			return &InvalidUpgradesError{Reason: fmt.Sprintf("upgrade %d: %s %q is not a sha256 digest", i, d.name, d.value)}
		}
	}
	if u.DepTypes == nil {
		return &InvalidUpgradesError{Reason: fmt.Sprintf("upgrade %d: depTypes is missing", i)}
	}
	return nil
}

// CurrentBundle is the fully pinned reference the upgrade starts from.
func (u *Upgrade) CurrentBundle() string {
	return fmt.Sprintf("%s:%s@%s", u.DepName, u.CurrentValue, u.CurrentDigest)
}

// ParseUpgrades decodes and validates a Renovate upgrades envelope,
// returning the upgrades this tool acts on. Entries whose depTypes do not
// include tekton-bundle are dropped, as are bundles outside the Konflux
// catalog unless PMT_LOCAL_TEST is set. Structural problems in any entry,
// including dropped ones, fail the whole envelope.
func ParseUpgrades(data []byte) ([]Upgrade, error) {
	var upgrades []Upgrade
	if err := json.Unmarshal(data, &upgrades); err != nil {
		return nil, &InvalidUpgradesError{Reason: fmt.Sprintf("not a JSON list of upgrades: %v", err)}
	}

	localTest := os.Getenv(EnvLocalTest) != ""

	var out []Upgrade
	for i, u := range upgrades {
		if err := u.validate(i); err != nil {
			return nil, err
		}
		if !slices.Contains(u.DepTypes, DepTypeTektonBundle) {
			continue
		}
		if !localTest && !strings.HasPrefix(u.DepName, KonfluxBundlePrefix) {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}
