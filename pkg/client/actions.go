package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

func (c *Client) SubmitRequest(ctx context.Context, sub Submission) (Request, error) {
	return track(c.tracker, ActionSubmitRequest, func() (Request, error) {
		var out Request
		err := c.do(ctx, http.MethodPost, "/v1/requests", sub, &out, true)
		return out, err
	})
}

func (c *Client) ProcessRequest(ctx context.Context, requestID uint64, issuerName string) (ProcessOutcome, error) {
	return track(c.tracker, ActionProcessRequest, func() (ProcessOutcome, error) {
		var out ProcessOutcome
		err := c.do(ctx, http.MethodPost, idPath("/v1/requests/%s/process", requestID),
			map[string]string{"issuer_name": issuerName}, &out, true)
		return out, err
	})
}

func (c *Client) GetRequest(ctx context.Context, requestID uint64) (Request, error) {
	return track(c.tracker, ActionGetRequest, func() (Request, error) {
		var out Request
		err := c.do(ctx, http.MethodGet, idPath("/v1/requests/%s", requestID), nil, &out, true)
		return out, err
	})
}

func (c *Client) PendingRequests(ctx context.Context, limit int) ([]Request, error) {
	return track(c.tracker, ActionPendingRequests, func() ([]Request, error) {
		var out struct {
			Requests []Request `json:"requests"`
		}
		q := url.Values{"status": {"pending"}}
		if limit > 0 {
			q.Set("limit", strconv.Itoa(limit))
		}
		err := c.do(ctx, http.MethodGet, "/v1/requests?"+q.Encode(), nil, &out, true)
		return out.Requests, err
	})
}

// VerifyCertificate needs no session.
func (c *Client) VerifyCertificate(ctx context.Context, certificateID uint64) (Certificate, error) {
	return track(c.tracker, ActionVerifyCertificate, func() (Certificate, error) {
		var out Certificate
		err := c.do(ctx, http.MethodGet, idPath("/v1/certificates/%s", certificateID), nil, &out, false)
		return out, err
	})
}

func (c *Client) MyCertificates(ctx context.Context) ([]uint64, error) {
	return track(c.tracker, ActionMyCertificates, func() ([]uint64, error) {
		var out struct {
			CertificateIDs []uint64 `json:"certificate_ids"`
		}
		err := c.do(ctx, http.MethodGet, "/v1/me/certificates", nil, &out, true)
		return out.CertificateIDs, err
	})
}

func (c *Client) RevokeCertificate(ctx context.Context, certificateID uint64, reason string) (Certificate, error) {
	return track(c.tracker, ActionRevokeCertificate, func() (Certificate, error) {
		var out Certificate
		err := c.do(ctx, http.MethodPost, idPath("/v1/certificates/%s/revoke", certificateID),
			map[string]string{"reason": reason}, &out, true)
		return out, err
	})
}

func (c *Client) ExtendValidity(ctx context.Context, certificateID uint64, additionalDays int) (Certificate, error) {
	return track(c.tracker, ActionExtendValidity, func() (Certificate, error) {
		var out Certificate
		err := c.do(ctx, http.MethodPost, idPath("/v1/certificates/%s/extend", certificateID),
			map[string]int{"additional_days": additionalDays}, &out, true)
		return out, err
	})
}

func (c *Client) encryptedHandle(ctx context.Context, a Action, format string, certificateID uint64) (string, error) {
	return track(c.tracker, a, func() (string, error) {
		var out struct {
			Handle string `json:"handle"`
		}
		err := c.do(ctx, http.MethodGet, idPath(format, certificateID), nil, &out, true)
		return out.Handle, err
	})
}

func (c *Client) EncryptedScore(ctx context.Context, certificateID uint64) (string, error) {
	return c.encryptedHandle(ctx, ActionEncryptedScore, "/v1/certificates/%s/encrypted-score", certificateID)
}

func (c *Client) EncryptedLevel(ctx context.Context, certificateID uint64) (string, error) {
	return c.encryptedHandle(ctx, ActionEncryptedLevel, "/v1/certificates/%s/encrypted-level", certificateID)
}

func (c *Client) AuthorizeIssuer(ctx context.Context, issuer, organization string) (Issuer, error) {
	return track(c.tracker, ActionAuthorizeIssuer, func() (Issuer, error) {
		var out Issuer
		err := c.do(ctx, http.MethodPost, "/v1/issuers",
			map[string]string{"address": issuer, "organization": organization}, &out, true)
		return out, err
	})
}

func (c *Client) RevokeIssuer(ctx context.Context, issuer string) (Issuer, error) {
	return track(c.tracker, ActionRevokeIssuer, func() (Issuer, error) {
		var out Issuer
		err := c.do(ctx, http.MethodDelete, "/v1/issuers/"+url.PathEscape(issuer), nil, &out, true)
		return out, err
	})
}

func (c *Client) SetRequirements(ctx context.Context, profession string, minScore, minLevel int) (Requirement, error) {
	return track(c.tracker, ActionSetRequirements, func() (Requirement, error) {
		var out Requirement
		err := c.do(ctx, http.MethodPut, "/v1/professions/"+url.PathEscape(profession)+"/requirements",
			map[string]int{"min_score": minScore, "min_level": minLevel}, &out, true)
		return out, err
	})
}

func (c *Client) Requirements(ctx context.Context, profession string) (Requirement, error) {
	return track(c.tracker, ActionGetRequirements, func() (Requirement, error) {
		var out Requirement
		err := c.do(ctx, http.MethodGet, "/v1/professions/"+url.PathEscape(profession)+"/requirements", nil, &out, false)
		return out, err
	})
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	return track(c.tracker, ActionStats, func() (Stats, error) {
		var out Stats
		err := c.do(ctx, http.MethodGet, "/v1/stats", nil, &out, false)
		return out, err
	})
}

// Events polls the ledger event log after seq.
func (c *Client) Events(ctx context.Context, after uint64, limit int) ([]Event, error) {
	return track(c.tracker, ActionEvents, func() ([]Event, error) {
		var out struct {
			Events []Event `json:"events"`
		}
		q := url.Values{"after": {strconv.FormatUint(after, 10)}}
		if limit > 0 {
			q.Set("limit", strconv.Itoa(limit))
		}
		err := c.do(ctx, http.MethodGet, "/v1/events?"+q.Encode(), nil, &out, false)
		return out.Events, err
	})
}
