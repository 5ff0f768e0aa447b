// Package catalog holds the product side of the storefront: beats and the
// license tiers that gate what a purchase actually grants.
package catalog

import "time"

// LicenseType enumerates the purchasable rights packages.
type LicenseType string

const (
	LicenseBasic     LicenseType = "basic"
	LicenseStandard  LicenseType = "standard"
	LicensePro       LicenseType = "pro"
	LicenseUnlimited LicenseType = "unlimited"
	LicenseExclusive LicenseType = "exclusive"
)

// ValidLicenseType reports whether t is one of the known tiers.
func ValidLicenseType(t LicenseType) bool {
	switch t {
	case LicenseBasic, LicenseStandard, LicensePro, LicenseUnlimited, LicenseExclusive:
		return true
	}
	return false
}

// FileFormat identifies a deliverable file class.
type FileFormat string

const (
	FormatMP3   FileFormat = "mp3"
	FormatWAV   FileFormat = "wav"
	FormatStems FileFormat = "stems"
)

// MediaRef points at an asset held by the external media store.
type MediaRef struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Features describes what a license tier unlocks.
type Features struct {
	Formats     []FileFormat `json:"formats"`
	StreamCap   int64        `json:"stream_cap"` // 0 = unlimited
	SalesCap    int64        `json:"sales_cap"`  // 0 = unlimited
	Exclusive   bool         `json:"exclusive"`
	ContractURL string       `json:"contract_url,omitempty"`
}

// LicenseTier is a purchasable rights package embedded in a beat.
type LicenseTier struct {
	Type       LicenseType `json:"type"`
	PriceCents int64       `json:"price_cents"`
	Available  bool        `json:"available"`
	Features   Features    `json:"features"`
}

// Beat is a catalog entry. License tiers are ordered cheapest-first by
// convention; mutation happens only through admin operations.
type Beat struct {
	ID        string
	Title     string
	Tempo     int
	Key       string
	Genre     string
	Moods     []string
	Tags      []string
	Preview   MediaRef            // streamable low-quality preview
	Cover     MediaRef            // artwork
	Files     map[FileFormat]MediaRef // full-quality deliverables
	Licenses  []LicenseTier
	Plays     int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tier returns the license tier matching t, if present.
func (b Beat) Tier(t LicenseType) (LicenseTier, bool) {
	for _, lic := range b.Licenses {
		if lic.Type == t {
			return lic, true
		}
	}
	return LicenseTier{}, false
}

// DeliverableFiles resolves the media refs unlocked by the tier's features.
func (b Beat) DeliverableFiles(tier LicenseTier) []MediaRef {
	var refs []MediaRef
	for _, format := range tier.Features.Formats {
		if ref, ok := b.Files[format]; ok {
			refs = append(refs, ref)
		}
	}
	return refs
}
