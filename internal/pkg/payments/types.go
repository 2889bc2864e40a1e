package payments

import (
	"encoding/json"
	"strconv"
	"time"
)

// Payment types attached to gateway metadata.
const (
	PaymentTypeOneTime   = "one-time"
	PaymentTypeRecurring = "recurring"
)

// Metadata keys written to every gateway object. Metadata is the only channel
// that attributes a gateway-side object back to local identities, so every
// created object must carry enough of it to be reconciled even if the local
// confirm call never arrives.
const (
	MetaKeyUserID         = "user_id"
	MetaKeyUserType       = "user_type"
	MetaKeyPaymentType    = "payment_type"
	MetaKeyOrganizationID = "organization_id"
)

// Metadata is the closed, typed view of gateway object metadata. Unrecognized
// keys land in Extra for forward compatibility instead of being dropped.
type Metadata struct {
	UserID         uint
	UserType       string
	PaymentType    string
	OrganizationID *uint
	Extra          map[string]string
}

// ParseMetadata extracts the typed fields from a raw gateway metadata map.
func ParseMetadata(raw map[string]string) Metadata {
	m := Metadata{}
	for k, v := range raw {
		switch k {
		case MetaKeyUserID:
			if id, err := strconv.ParseUint(v, 10, 32); err == nil {
				m.UserID = uint(id)
			}
		case MetaKeyUserType:
			m.UserType = v
		case MetaKeyPaymentType:
			m.PaymentType = v
		case MetaKeyOrganizationID:
			if id, err := strconv.ParseUint(v, 10, 32); err == nil && id > 0 {
				orgID := uint(id)
				m.OrganizationID = &orgID
			}
		default:
			if m.Extra == nil {
				m.Extra = map[string]string{}
			}
			m.Extra[k] = v
		}
	}
	return m
}

// ToMap renders the metadata for a gateway call.
func (m Metadata) ToMap() map[string]string {
	out := map[string]string{
		MetaKeyUserID:      strconv.FormatUint(uint64(m.UserID), 10),
		MetaKeyPaymentType: m.PaymentType,
	}
	if m.UserType != "" {
		out[MetaKeyUserType] = m.UserType
	}
	if m.OrganizationID != nil {
		out[MetaKeyOrganizationID] = strconv.FormatUint(uint64(*m.OrganizationID), 10)
	}
	for k, v := range m.Extra {
		if _, reserved := out[k]; !reserved {
			out[k] = v
		}
	}
	return out
}

// JSON renders the raw metadata map for local storage.
func MetadataJSON(raw map[string]string) string {
	if len(raw) == 0 {
		return ""
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return ""
	}
	return string(b)
}

// CreateContributionInput is the validated request for a one-time
// contribution.
type CreateContributionInput struct {
	Amount         float64
	Currency       string
	UserID         uint
	UserType       string
	OrganizationID *uint
	Extra          map[string]string
}

// CreateContributionResult carries what the client needs to confirm the
// payment with its own gateway SDK. The client secret is returned once and
// never stored locally.
type CreateContributionResult struct {
	PaymentIntentID string
	ClientSecret    string
}

// SubscriptionState is the normalized shape handlers feed into the store.
type SubscriptionState struct {
	StripeSubscriptionID string
	StripeCustomerID     string
	UserID               uint
	Status               string
	CurrentPeriodStart   *time.Time
	CurrentPeriodEnd     *time.Time
	CanceledAt           *time.Time
	MetadataJSON         string
}

// CustomerState is the normalized shape for customer upserts.
type CustomerState struct {
	StripeCustomerID string
	UserID           uint
	Email            string
	Name             string
	MetadataJSON     string
}

// UnixTime converts a gateway unix timestamp to *time.Time, mapping the zero
// value to nil.
func UnixTime(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
