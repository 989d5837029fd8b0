package catalog

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/updatefleet/firmware-registry/pkg/condition"
	"github.com/updatefleet/firmware-registry/pkg/fwversion"
)

const schemaLogPrefix = "catalog:schema"

var integrityRegex = regexp.MustCompile(`^sha256:[a-f0-9]{64}$`)

// ValidationError describes one invalid field in a raw catalog definition,
// with a machine-readable path to the offending field or index.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Path + ": " + e.Message
}

// ValidationErrors aggregates all validation failures of one definition.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("%s - invalid catalog definition: %s", schemaLogPrefix, strings.Join(msgs, "; "))
}

// raw shapes mirror the on-disk JSON. Pointer fields distinguish missing
// values from zero values; upgrades carry both the canonical files list and
// the single-file shorthand fields.
type rawDefinition struct {
	Devices  []rawDevice  `json:"devices"`
	Upgrades []rawUpgrade `json:"upgrades"`
}

type rawDevice struct {
	Brand           *string   `json:"brand"`
	Model           *string   `json:"model"`
	ManufacturerID  *string   `json:"manufacturerId"`
	ProductType     *string   `json:"productType"`
	ProductID       *string   `json:"productId"`
	FirmwareVersion *rawRange `json:"firmwareVersion"`
}

type rawRange struct {
	Min *string `json:"min"`
	Max *string `json:"max"`
}

type rawUpgrade struct {
	If        *string   `json:"$if"`
	Version   *string   `json:"version"`
	Changelog *string   `json:"changelog"`
	Channel   *string   `json:"channel"`
	Region    *string   `json:"region"`
	Files     []rawFile `json:"files"`

	// single-file shorthand
	Target    *int    `json:"target"`
	URL       *string `json:"url"`
	Integrity *string `json:"integrity"`
}

type rawFile struct {
	Target    *int    `json:"target"`
	URL       *string `json:"url"`
	Integrity *string `json:"integrity"`
}

// ParseDefinition parses and validates a raw catalog definition, normalizing
// the single-file upgrade shorthand into the canonical multi-file shape.
// On failure it returns ValidationErrors listing every invalid field.
func ParseDefinition(data []byte) (*Definition, error) {
	var raw rawDefinition
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s - failed to parse definition: %w", schemaLogPrefix, err)
	}
	return validateDefinition(&raw)
}

func validateDefinition(raw *rawDefinition) (*Definition, error) {
	var errs ValidationErrors

	if len(raw.Devices) == 0 {
		errs = append(errs, ValidationError{Path: "devices", Message: "must contain at least one device"})
	}
	if len(raw.Upgrades) == 0 {
		errs = append(errs, ValidationError{Path: "upgrades", Message: "must contain at least one upgrade"})
	}

	def := &Definition{
		Devices:  make([]Device, 0, len(raw.Devices)),
		Upgrades: make([]Upgrade, 0, len(raw.Upgrades)),
	}

	for i, rd := range raw.Devices {
		device, deviceErrs := validateDevice(i, &rd)
		if len(deviceErrs) > 0 {
			errs = append(errs, deviceErrs...)
			continue
		}
		def.Devices = append(def.Devices, *device)
	}

	for i, ru := range raw.Upgrades {
		upgrade, upgradeErrs := validateUpgrade(i, &ru)
		if len(upgradeErrs) > 0 {
			errs = append(errs, upgradeErrs...)
			continue
		}
		def.Upgrades = append(def.Upgrades, *upgrade)
	}

	if len(errs) > 0 {
		return nil, errs
	}

	// Cross-field invariants after structural validation
	if err := checkUpgradeInvariants(def.Upgrades); err != nil {
		return nil, err
	}

	return def, nil
}

func validateDevice(i int, rd *rawDevice) (*Device, ValidationErrors) {
	var errs ValidationErrors
	path := func(field string) string { return fmt.Sprintf("devices[%d].%s", i, field) }

	if rd.Brand == nil || *rd.Brand == "" {
		errs = append(errs, ValidationError{Path: path("brand"), Message: "required non-empty string"})
	}
	if rd.Model == nil || *rd.Model == "" {
		errs = append(errs, ValidationError{Path: path("model"), Message: "required non-empty string"})
	}
	for _, id := range []struct {
		field string
		value *string
	}{
		{"manufacturerId", rd.ManufacturerID},
		{"productType", rd.ProductType},
		{"productId", rd.ProductID},
	} {
		if id.value == nil || !fwversion.HexIDRegex.MatchString(*id.value) {
			errs = append(errs, ValidationError{Path: path(id.field), Message: "must be a hexadecimal number with 4 digits"})
		}
	}

	versionRange := DefaultVersionRange
	if rd.FirmwareVersion != nil {
		if rd.FirmwareVersion.Min == nil || !fwversion.IsFirmwareVersion(*rd.FirmwareVersion.Min) {
			errs = append(errs, ValidationError{Path: path("firmwareVersion.min"), Message: "is not a valid firmware version"})
		}
		if rd.FirmwareVersion.Max == nil || !fwversion.IsFirmwareVersion(*rd.FirmwareVersion.Max) {
			errs = append(errs, ValidationError{Path: path("firmwareVersion.max"), Message: "is not a valid firmware version"})
		}
		if len(errs) == 0 {
			versionRange = VersionRange{Min: *rd.FirmwareVersion.Min, Max: *rd.FirmwareVersion.Max}
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return &Device{
		Brand:           *rd.Brand,
		Model:           *rd.Model,
		ManufacturerID:  *rd.ManufacturerID,
		ProductType:     *rd.ProductType,
		ProductID:       *rd.ProductID,
		FirmwareVersion: versionRange,
	}, nil
}

func validateUpgrade(i int, ru *rawUpgrade) (*Upgrade, ValidationErrors) {
	var errs ValidationErrors
	path := func(field string) string { return fmt.Sprintf("upgrades[%d].%s", i, field) }

	cond := ""
	if ru.If != nil {
		if *ru.If == "" {
			errs = append(errs, ValidationError{Path: path("$if"), Message: "must not be empty"})
		} else if _, err := condition.Parse(*ru.If); err != nil {
			errs = append(errs, ValidationError{Path: path("$if"), Message: err.Error()})
		} else {
			cond = *ru.If
		}
	}

	if ru.Version == nil || !fwversion.IsFirmwareVersion(*ru.Version) {
		errs = append(errs, ValidationError{Path: path("version"), Message: "is not a valid firmware version"})
	}
	if ru.Changelog == nil || *ru.Changelog == "" {
		errs = append(errs, ValidationError{Path: path("changelog"), Message: "required non-empty string"})
	}

	channel := ChannelStable
	if ru.Channel != nil {
		if *ru.Channel != ChannelStable && *ru.Channel != ChannelBeta {
			errs = append(errs, ValidationError{Path: path("channel"), Message: `must be "stable" or "beta"`})
		} else {
			channel = *ru.Channel
		}
	}

	region := ""
	if ru.Region != nil {
		if !ValidRegion(*ru.Region) {
			errs = append(errs, ValidationError{Path: path("region"), Message: "is not a known region"})
		} else {
			region = *ru.Region
		}
	}

	var files []File
	if ru.Files != nil {
		files = make([]File, 0, len(ru.Files))
		for j, rf := range ru.Files {
			file, fileErrs := validateFile(fmt.Sprintf("upgrades[%d].files[%d]", i, j), &rf)
			if len(fileErrs) > 0 {
				errs = append(errs, fileErrs...)
				continue
			}
			files = append(files, *file)
		}
	} else {
		// Single-file shorthand: target/url/integrity live directly on the
		// upgrade and normalize to a one-element files list.
		file, fileErrs := validateFile(fmt.Sprintf("upgrades[%d]", i), &rawFile{
			Target:    ru.Target,
			URL:       ru.URL,
			Integrity: ru.Integrity,
		})
		if len(fileErrs) > 0 {
			errs = append(errs, fileErrs...)
		} else {
			files = []File{*file}
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return &Upgrade{
		Condition: cond,
		Version:   *ru.Version,
		Changelog: *ru.Changelog,
		Channel:   channel,
		Region:    region,
		Files:     files,
	}, nil
}

func validateFile(pathPrefix string, rf *rawFile) (*File, ValidationErrors) {
	var errs ValidationErrors

	target := 0
	if rf.Target != nil {
		if *rf.Target < 0 {
			errs = append(errs, ValidationError{Path: pathPrefix + ".target", Message: "must not be negative"})
		} else {
			target = *rf.Target
		}
	}

	if rf.URL == nil || !validAbsoluteURL(*rf.URL) {
		errs = append(errs, ValidationError{Path: pathPrefix + ".url", Message: "must be an absolute URL"})
	}
	if rf.Integrity == nil || !integrityRegex.MatchString(*rf.Integrity) {
		errs = append(errs, ValidationError{Path: pathPrefix + ".integrity", Message: "is not a supported hash"})
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return &File{Target: target, URL: *rf.URL, Integrity: *rf.Integrity}, nil
}

func validAbsoluteURL(raw string) bool {
	if raw == "" || raw != strings.TrimSpace(raw) {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// checkUpgradeInvariants enforces per-upgrade invariants: within one upgrade,
// file targets and file URLs must be unique.
func checkUpgradeInvariants(upgrades []Upgrade) error {
	for i, upgrade := range upgrades {
		targets := make(map[int]struct{}, len(upgrade.Files))
		urls := make(map[string]struct{}, len(upgrade.Files))
		for _, file := range upgrade.Files {
			if _, dup := targets[file.Target]; dup {
				return ValidationErrors{{
					Path:    fmt.Sprintf("upgrades[%d]", i),
					Message: fmt.Sprintf("duplicate target %d in upgrades[%d]", file.Target, i),
				}}
			}
			targets[file.Target] = struct{}{}
			if _, dup := urls[file.URL]; dup {
				return ValidationErrors{{
					Path:    fmt.Sprintf("upgrades[%d]", i),
					Message: fmt.Sprintf("duplicate URL %s in upgrades[%d]", file.URL, i),
				}}
			}
			urls[file.URL] = struct{}{}
		}
	}
	return nil
}
