package domain

import "time"

type CredentialStatus string

const (
	CredentialValid   CredentialStatus = "valid"
	CredentialInvalid CredentialStatus = "invalid"
)

func StatusOf(ok bool) CredentialStatus {
	if ok {
		return CredentialValid
	}
	return CredentialInvalid
}

// Credential is an account on one platform. Ref points at the persisted
// session-state blob (a file name under the cookies directory).
// (Platform, Label) is unique.
type Credential struct {
	ID              int64            `json:"id"`
	Platform        Platform         `json:"platform_type"`
	Ref             string           `json:"credential_ref"`
	Label           string           `json:"label"`
	Status          CredentialStatus `json:"status"`
	GroupID         *int64           `json:"group_id"`
	CreatedAt       time.Time        `json:"created_at"`
	LastValidatedAt *time.Time       `json:"last_validated_at"`
}

// IssuedCredential is what a successful login writes.
type IssuedCredential struct {
	Platform    Platform
	Label       string
	Ref         string
	GroupID     *int64
	ValidatedAt time.Time
}

type Group struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	AccountCount int       `json:"account_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CredentialCount is one cell of the per-platform, per-status tally.
type CredentialCount struct {
	Platform Platform
	Status   CredentialStatus
	N        int
}

// AccountStats summarises stored credentials by their last recorded
// validation. Platforms is keyed by platform name and lists every platform.
type AccountStats struct {
	Total     int            `json:"total"`
	Valid     int            `json:"normal"`
	Invalid   int            `json:"abnormal"`
	Platforms map[string]int `json:"platforms"`
}

func TallyAccounts(counts []CredentialCount) AccountStats {
	st := AccountStats{Platforms: make(map[string]int, len(Platforms))}
	for _, p := range Platforms {
		st.Platforms[p.String()] = 0
	}
	for _, c := range counts {
		st.Total += c.N
		if c.Status == CredentialValid {
			st.Valid += c.N
		} else {
			st.Invalid += c.N
		}
		if c.Platform.Valid() {
			st.Platforms[c.Platform.String()] += c.N
		}
	}
	return st
}
