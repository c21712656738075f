package models

import (
	"strconv"
	"time"

	id "certledger/pkg/domain"
)

// EventType names a ledger event. Names match what clients subscribe to.
type EventType string

const (
	EventCertificationRequested EventType = "CertificationRequested"
	EventCertificationApproved  EventType = "CertificationApproved"
	EventCertificationRejected  EventType = "CertificationRejected"
	EventCertificateRevoked     EventType = "CertificateRevoked"
	EventCertificateExtended    EventType = "CertificateExtended"
	EventIssuerAuthorized       EventType = "IssuerAuthorized"
	EventIssuerRevoked          EventType = "IssuerRevoked"
)

// Event is one entry of the append-only ledger event log. Seq is assigned by the
// store and strictly increases across all event types.
type Event struct {
	Seq           uint64
	Type          EventType
	RequestID     id.RequestID
	CertificateID id.CertificateID
	Account       id.Address
	Profession    string
	// Detail carries the free-text payload: rejection or revocation reason,
	// issuer organization, or added days.
	Detail      string
	OccurredAt  time.Time
	PublishedAt *time.Time
}

func CertificationRequested(reqID id.RequestID, applicant id.Address, profession string, at time.Time) Event {
	return Event{Type: EventCertificationRequested, RequestID: reqID, Account: applicant, Profession: profession, OccurredAt: at}
}

func CertificationApproved(reqID id.RequestID, certID id.CertificateID, at time.Time) Event {
	return Event{Type: EventCertificationApproved, RequestID: reqID, CertificateID: certID, OccurredAt: at}
}

func CertificationRejected(reqID id.RequestID, reason string, at time.Time) Event {
	return Event{Type: EventCertificationRejected, RequestID: reqID, Detail: reason, OccurredAt: at}
}

func CertificateRevoked(certID id.CertificateID, reason string, at time.Time) Event {
	return Event{Type: EventCertificateRevoked, CertificateID: certID, Detail: reason, OccurredAt: at}
}

func CertificateExtended(certID id.CertificateID, additionalDays int, at time.Time) Event {
	return Event{Type: EventCertificateExtended, CertificateID: certID, Detail: strconv.Itoa(additionalDays), OccurredAt: at}
}

func IssuerAuthorized(issuer id.Address, organization string, at time.Time) Event {
	return Event{Type: EventIssuerAuthorized, Account: issuer, Detail: organization, OccurredAt: at}
}

func IssuerRevoked(issuer id.Address, at time.Time) Event {
	return Event{Type: EventIssuerRevoked, Account: issuer, OccurredAt: at}
}
