package concept

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Financial-Times/go-logger/v2"
	tidUtils "github.com/Financial-Times/transactionid-utils-go"
	pkgerrors "github.com/pkg/errors"

	"github.com/openmrs/ocl-concepts-api/auth"
	"github.com/openmrs/ocl-concepts-api/query"
)

const (
	NumFoundHeader = "num_found"

	gtgPath = "/version/"
)

// ReadAPI retrieves concepts from the OCL API.
type ReadAPI interface {
	ListConcepts(ctx context.Context, scope string, params query.Params) (Page, error)
	GetConcept(ctx context.Context, conceptPath string) (*APIConcept, error)
	Endpoint() string
	GTG() error
}

var ErrUnexpectedResponse = errors.New("OCL API returned a non-200 HTTP status code")

// APIError is returned for client errors of the OCL API, whose body is worth
// forwarding to our own caller.
type APIError struct {
	status int
	body   []byte
}

func (e APIError) Error() string {
	return fmt.Sprintf("status %d: %v", e.status, ErrUnexpectedResponse)
}

func (e APIError) Unwrap() error {
	return ErrUnexpectedResponse
}

// Status returns the http status code returned by the OCL API.
func (e APIError) Status() int {
	return e.status
}

// Body returns the response body returned by the OCL API.
func (e APIError) Body() []byte {
	return e.body
}

var apiSortFields = map[query.SortField]string{
	query.SortByBestMatch:    "_score",
	query.SortByLastUpdate:   "last_update",
	query.SortByName:         "name",
	query.SortByID:           "id",
	query.SortByDatatype:     "datatype",
	query.SortByConceptClass: "concept_class",
}

type oclConceptsAPI struct {
	endpoint   string
	httpClient *http.Client
	log        *logger.UPPLogger
}

func NewReadAPI(client *http.Client, endpoint string, log *logger.UPPLogger) ReadAPI {
	return &oclConceptsAPI{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: client,
		log:        log,
	}
}

func (api *oclConceptsAPI) ListConcepts(ctx context.Context, scope string, params query.Params) (Page, error) {
	ctx, tid := api.ensureTransactionID(ctx)
	listLog := api.log.WithTransactionID(tid).WithField("scope", scope)

	reqURL, err := url.Parse(api.endpoint + scope)
	if err != nil {
		listLog.WithError(err).Error("Error in building the OCL concepts URL")
		return Page{}, err
	}
	reqURL.RawQuery = listValues(params).Encode()

	resp, err := api.get(ctx, reqURL.String())
	if err != nil {
		listLog.WithError(err).Error("Error making the HTTP request to OCL API")
		return Page{}, err
	}
	defer resp.Body.Close()

	if err = checkStatus(resp); err != nil {
		listLog.WithError(err).Error("Error received from OCL API")
		return Page{}, err
	}

	var concepts []APIConcept
	if err = json.NewDecoder(resp.Body).Decode(&concepts); err != nil {
		listLog.WithError(err).Error("Error in unmarshalling the HTTP response from OCL API")
		return Page{}, pkgerrors.Wrap(err, "failed to decode OCL concepts")
	}

	page := Page{Concepts: concepts}
	if raw := resp.Header.Get(NumFoundHeader); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			page.NumFound = &n
		} else {
			listLog.WithField(NumFoundHeader, raw).Warn("Ignoring non numeric num_found header")
		}
	}

	listLog.WithField("count", len(concepts)).Debug("Concepts fetched successfully")
	return page, nil
}

func (api *oclConceptsAPI) GetConcept(ctx context.Context, conceptPath string) (*APIConcept, error) {
	ctx, tid := api.ensureTransactionID(ctx)
	getLog := api.log.WithTransactionID(tid).WithField("concept", conceptPath)

	reqURL, err := url.Parse(api.endpoint + conceptPath)
	if err != nil {
		getLog.WithError(err).Error("Error in building the OCL concept URL")
		return nil, err
	}
	reqURL.RawQuery = url.Values{"includeMappings": {"true"}}.Encode()

	resp, err := api.get(ctx, reqURL.String())
	if err != nil {
		getLog.WithError(err).Error("Error making the HTTP request to OCL API")
		return nil, err
	}
	defer resp.Body.Close()

	if err = checkStatus(resp); err != nil {
		getLog.WithError(err).Error("Error received from OCL API")
		return nil, err
	}

	var c APIConcept
	if err = json.NewDecoder(resp.Body).Decode(&c); err != nil {
		getLog.WithError(err).Error("Error in unmarshalling the HTTP response from OCL API")
		return nil, pkgerrors.Wrap(err, "failed to decode OCL concept")
	}
	return &c, nil
}

func (api *oclConceptsAPI) ensureTransactionID(ctx context.Context) (context.Context, string) {
	tid, err := tidUtils.GetTransactionIDFromContext(ctx)
	if err != nil {
		tid = tidUtils.NewTransactionID()
		api.log.WithTransactionID(tid).
			WithError(err).
			Info("No Transaction ID provided for concept request, so a new one has been generated.")
		ctx = tidUtils.TransactionAwareContext(ctx, tid)
	}
	return ctx, tid
}

func (api *oclConceptsAPI) get(ctx context.Context, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	tid, _ := tidUtils.GetTransactionIDFromContext(ctx)
	req.Header.Set(tidUtils.TransactionIDHeader, tid)
	req.Header.Set("Accept", "application/json")
	if authorization, ok := auth.GetAuthorizationFromContext(ctx); ok {
		req.Header.Set(auth.AuthorizationHeader, authorization)
	}
	return api.httpClient.Do(req)
}

func listValues(params query.Params) url.Values {
	values := url.Values{}
	values.Set("page", strconv.Itoa(params.Page))
	values.Set("limit", strconv.Itoa(params.Limit))
	values.Set("q", params.Q)
	values.Set(string(params.SortDirection), apiSortFields[params.SortBy])
	if len(params.DataTypeFilters) > 0 {
		values.Set("datatype", strings.Join(params.DataTypeFilters, ","))
	}
	if len(params.ClassFilters) > 0 {
		values.Set("conceptClass", strings.Join(params.ClassFilters, ","))
	}
	values.Set("verbose", "true")
	values.Set("includeMappings", "true")
	return values
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return APIError{status: resp.StatusCode, body: body}
	}
	if err != nil {
		return fmt.Errorf("status %d: %w", resp.StatusCode, ErrUnexpectedResponse)
	}
	return fmt.Errorf("status %d %s: %w", resp.StatusCode, string(body), ErrUnexpectedResponse)
}

func (api *oclConceptsAPI) Endpoint() string {
	return api.endpoint
}

func (api *oclConceptsAPI) GTG() error {
	tid := tidUtils.NewTransactionID()
	ctx := tidUtils.TransactionAwareContext(context.Background(), tid)
	resp, err := api.get(ctx, api.endpoint+gtgPath)
	if err != nil {
		api.log.WithTransactionID(tid).WithError(err).Error("OCL API is not good-to-go")
		return err
	}
	defer resp.Body.Close()
	if err = checkStatus(resp); err != nil {
		api.log.WithTransactionID(tid).WithError(err).Error("OCL API is not good-to-go")
	}
	return err
}
