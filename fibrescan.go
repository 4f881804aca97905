// Package fibrescan checks UK broadband offers by driving a real browser
// through each provider's multi-step availability wizard (postcode entry,
// address selection, eligibility questions) and extracting priced plan
// offers from the resulting page.
//
// This package contains domain types and interfaces following Ben Johnson's
// Standard Package Layout. Implementations live in subdirectories named
// after their primary dependency (e.g. rod/, goquery/, csv/).
package fibrescan
