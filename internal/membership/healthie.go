package membership

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/wolfman30/medspa-roster-sync/internal/apperr"
	"github.com/wolfman30/medspa-roster-sync/internal/billing"
	"github.com/wolfman30/medspa-roster-sync/internal/upstream"
)

const (
	healthieSystem = "healthie"
	pageSize       = 100

	queryOfferings = `query Offerings($offset: Int) {
  offerings(offset: $offset, should_paginate: true) {
    id
    name
    description
    price
    billing_frequency
  }
}`

	mutationCreateOffering = `mutation CreateOffering($name: String!, $description: String, $price: String!, $frequency: String!) {
  createOffering(input: { name: $name, description: $description, price: $price, billing_frequency: $frequency, currency: "USD" }) {
    offering {
      id
      name
      description
      price
      billing_frequency
    }
    messages {
      field
      message
    }
  }
}`

	queryUsers = `query Users($offset: Int, $pageSize: Int) {
  users(offset: $offset, page_size: $pageSize, should_paginate: true) {
    id
    full_name
    active
    user_group {
      name
    }
  }
}`
)

// frequency names as the membership system spells them
var toHealthie = map[string]string{
	"weekly":    "Weekly",
	"biweekly":  "Every 2 Weeks",
	"monthly":   "Monthly",
	"quarterly": "Every 3 Months",
	"yearly":    "Yearly",
	"one_time":  "Once",
}

var fromHealthie = func() map[string]string {
	m := make(map[string]string, len(toHealthie))
	for k, v := range toHealthie {
		m[strings.ToLower(v)] = k
	}
	return m
}()

// HealthieConfig configures the Healthie GraphQL client.
type HealthieConfig struct {
	URL       string
	APIKey    string
	Transport upstream.Config
}

// HealthieClient is a lightweight GraphQL client for offerings and users.
type HealthieClient struct {
	configured bool
	http       *upstream.Client
}

// NewHealthieClient creates a client. Missing credentials surface as a
// configuration error on first use.
func NewHealthieClient(cfg HealthieConfig) *HealthieClient {
	key := strings.TrimSpace(cfg.APIKey)
	transport := cfg.Transport
	transport.System = healthieSystem
	transport.BaseURL = cfg.URL
	transport.Authorize = func(r *http.Request) {
		r.Header.Set("Authorization", "Basic "+key)
		r.Header.Set("AuthorizationSource", "API")
	}
	return &HealthieClient{configured: key != "", http: upstream.New(transport)}
}

type graphQLRequest struct {
	OperationName string `json:"operationName,omitempty"`
	Query         string `json:"query"`
	Variables     any    `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse[T any] struct {
	Data   T              `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type offering struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	Price            string `json:"price"`
	BillingFrequency string `json:"billing_frequency"`
}

type offeringsData struct {
	Offerings []offering `json:"offerings"`
}

type createOfferingData struct {
	CreateOffering struct {
		Offering *offering `json:"offering"`
		Messages []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"messages"`
	} `json:"createOffering"`
}

type usersData struct {
	Users []struct {
		ID        string `json:"id"`
		FullName  string `json:"full_name"`
		Active    bool   `json:"active"`
		UserGroup *struct {
			Name string `json:"name"`
		} `json:"user_group"`
	} `json:"users"`
}

// ListPackages returns every offering.
func (c *HealthieClient) ListPackages(ctx context.Context) ([]Package, error) {
	var out []Package
	for offset := 0; ; offset += pageSize {
		var resp graphQLResponse[offeringsData]
		if err := c.do(ctx, "Offerings", queryOfferings, map[string]any{"offset": offset}, &resp); err != nil {
			return nil, err
		}
		for _, o := range resp.Data.Offerings {
			out = append(out, packageFromOffering(o))
		}
		if len(resp.Data.Offerings) < pageSize {
			return out, nil
		}
	}
}

// CreatePackage creates an offering.
func (c *HealthieClient) CreatePackage(ctx context.Context, in PackageInput) (Package, error) {
	freq, ok := toHealthie[in.Frequency]
	if !ok {
		return Package{}, &apperr.ValidationError{Entity: "package", ID: in.Name, Field: "Frequency", Reason: fmt.Sprintf("unsupported frequency %q", in.Frequency)}
	}
	vars := map[string]any{
		"name":        in.Name,
		"description": in.Description,
		"price":       billing.FormatCents(in.PriceCents),
		"frequency":   freq,
	}
	var resp graphQLResponse[createOfferingData]
	if err := c.do(ctx, "CreateOffering", mutationCreateOffering, vars, &resp); err != nil {
		return Package{}, err
	}
	result := resp.Data.CreateOffering
	if len(result.Messages) > 0 {
		msgs := make([]string, 0, len(result.Messages))
		for _, m := range result.Messages {
			msgs = append(msgs, strings.TrimSpace(m.Field+" "+m.Message))
		}
		return Package{}, &apperr.ExternalServiceError{System: healthieSystem, Op: "CreateOffering", Err: errors.New(strings.Join(msgs, "; "))}
	}
	if result.Offering == nil {
		return Package{}, &apperr.ExternalServiceError{System: healthieSystem, Op: "CreateOffering", Err: errors.New("no offering returned")}
	}
	return packageFromOffering(*result.Offering), nil
}

// ListMembers returns the full user roster, active or not.
func (c *HealthieClient) ListMembers(ctx context.Context) ([]Member, error) {
	var out []Member
	for offset := 0; ; offset += pageSize {
		var resp graphQLResponse[usersData]
		if err := c.do(ctx, "Users", queryUsers, map[string]any{"offset": offset, "pageSize": pageSize}, &resp); err != nil {
			return nil, err
		}
		for _, u := range resp.Data.Users {
			m := Member{ExternalID: u.ID, FullName: u.FullName, Active: u.Active}
			if u.UserGroup != nil {
				m.PlanName = u.UserGroup.Name
			}
			out = append(out, m)
		}
		if len(resp.Data.Users) < pageSize {
			return out, nil
		}
	}
}

type graphQLErrors interface {
	errs() []graphQLError
}

func (r *graphQLResponse[T]) errs() []graphQLError { return r.Errors }

func (c *HealthieClient) do(ctx context.Context, opName, query string, vars map[string]any, out graphQLErrors) error {
	if !c.configured {
		return apperr.NotConfigured(healthieSystem)
	}
	req := graphQLRequest{OperationName: opName, Query: query, Variables: vars}
	if err := c.http.Do(ctx, opName, http.MethodPost, "", nil, req, out); err != nil {
		return fmt.Errorf("membership: %s: %w", opName, err)
	}
	if errs := out.errs(); len(errs) > 0 {
		return &apperr.ExternalServiceError{System: healthieSystem, Op: opName, Err: errors.New(errs[0].Message)}
	}
	return nil
}

func packageFromOffering(o offering) Package {
	var cents int64
	if price, err := strconv.ParseFloat(strings.TrimSpace(o.Price), 64); err == nil {
		cents, _ = billing.ToCents(price)
	}
	freq := fromHealthie[strings.ToLower(strings.TrimSpace(o.BillingFrequency))]
	if freq == "" {
		freq = strings.ToLower(strings.TrimSpace(o.BillingFrequency))
	}
	return Package{
		ID:          o.ID,
		Name:        o.Name,
		Description: o.Description,
		PriceCents:  cents,
		Frequency:   freq,
	}
}
