package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Financial-Times/go-logger/v2"
	tidUtils "github.com/Financial-Times/transactionid-utils-go"
	pkgerrors "github.com/pkg/errors"
)

const (
	profilePath = "/user/"
	orgsPath    = "/user/orgs/"
)

var ErrProfileUnavailable = errors.New("OCL API did not return the user profile")

// Profile is the OCL user the forwarded token belongs to.
type Profile struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	URL      string `json:"url"`
}

// Org is an organisation the user is a member of.
type Org struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// ProfileAPI resolves the current user. Both calls return nil for anonymous
// contexts without contacting the OCL API.
type ProfileAPI interface {
	GetProfile(ctx context.Context) (*Profile, error)
	GetOrgs(ctx context.Context) ([]Org, error)
}

type oclProfileAPI struct {
	endpoint   string
	httpClient *http.Client
	log        *logger.UPPLogger
}

func NewProfileAPI(client *http.Client, endpoint string, log *logger.UPPLogger) ProfileAPI {
	return &oclProfileAPI{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: client,
		log:        log,
	}
}

func (api *oclProfileAPI) GetProfile(ctx context.Context) (*Profile, error) {
	authorization, ok := GetAuthorizationFromContext(ctx)
	if !ok {
		return nil, nil
	}
	var p Profile
	if err := api.get(ctx, profilePath, authorization, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (api *oclProfileAPI) GetOrgs(ctx context.Context) ([]Org, error) {
	authorization, ok := GetAuthorizationFromContext(ctx)
	if !ok {
		return nil, nil
	}
	var orgs []Org
	if err := api.get(ctx, orgsPath, authorization, &orgs); err != nil {
		return nil, err
	}
	return orgs, nil
}

func (api *oclProfileAPI) get(ctx context.Context, path string, authorization string, v interface{}) error {
	tid, _ := tidUtils.GetTransactionIDFromContext(ctx)
	getLog := api.log.WithTransactionID(tid).WithField("path", path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.endpoint+path, nil)
	if err != nil {
		getLog.WithError(err).Error("Error in building the OCL user request")
		return err
	}
	req.Header.Set(tidUtils.TransactionIDHeader, tid)
	req.Header.Set(AuthorizationHeader, authorization)
	req.Header.Set("Accept", "application/json")

	resp, err := api.httpClient.Do(req)
	if err != nil {
		getLog.WithError(err).Error("Error making the HTTP request to OCL API")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		getLog.WithField("status", resp.StatusCode).Warn("OCL API refused the user request")
		return fmt.Errorf("status %d: %w", resp.StatusCode, ErrProfileUnavailable)
	}
	if err = json.NewDecoder(resp.Body).Decode(v); err != nil {
		getLog.WithError(err).Error("Error in unmarshalling the OCL user response")
		return pkgerrors.Wrap(err, "failed to decode OCL user response")
	}
	return nil
}
