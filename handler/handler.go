package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/Financial-Times/go-logger/v2"
	tidutils "github.com/Financial-Times/transactionid-utils-go"
	"github.com/gorilla/mux"

	"github.com/openmrs/ocl-concepts-api/auth"
	"github.com/openmrs/ocl-concepts-api/concept"
	"github.com/openmrs/ocl-concepts-api/mapper"
	"github.com/openmrs/ocl-concepts-api/permission"
	"github.com/openmrs/ocl-concepts-api/query"
	"github.com/openmrs/ocl-concepts-api/store"
	"github.com/openmrs/ocl-concepts-api/view"
)

const (
	ListConceptsPath = "/{ownerType}/{owner}/{containerType}/{container}/concepts/"
	ConceptPath      = ListConceptsPath + "{id}/"
)

// CIELConceptsPath is where concepts are created for a collection: they are
// added to CIEL and then referenced from the collection.
const CIELConceptsPath = "/orgs/CIEL/sources/CIEL/concepts/"

// Coordinator keeps the concepts of a list view in line with its location.
type Coordinator interface {
	Sync(ctx context.Context, key string, loc view.Location) (view.Resolved, error)
}

// Handler serves concept list views and single concepts.
type Handler struct {
	coordinator Coordinator
	store       view.Store
	conceptsAPI concept.ReadAPI
	profiles    auth.ProfileAPI
	timeout     time.Duration
	log         *logger.UPPLogger
}

// New initializes Handler.
func New(coordinator Coordinator, s view.Store, conceptsAPI concept.ReadAPI, profiles auth.ProfileAPI, httpTimeout time.Duration, log *logger.UPPLogger) *Handler {
	return &Handler{
		coordinator: coordinator,
		store:       s,
		conceptsAPI: conceptsAPI,
		profiles:    profiles,
		timeout:     httpTimeout,
		log:         log,
	}
}

type Buttons struct {
	Edit            bool `json:"edit"`
	AddToCollection bool `json:"addToCollection"`
}

type Links struct {
	Self     string `json:"self"`
	First    string `json:"first"`
	Previous string `json:"previous,omitempty"`
	Next     string `json:"next,omitempty"`
	Filters  string `json:"filters"`
}

// ConceptList is a page of a concepts list view.
type ConceptList struct {
	Concepts      []concept.Concept `json:"concepts"`
	Count         int               `json:"count"`
	Loading       bool              `json:"loading"`
	Errors        string            `json:"errors,omitempty"`
	Query         query.Params      `json:"query"`
	Buttons       Buttons           `json:"buttons"`
	AddConceptURL string            `json:"addConceptURL,omitempty"`
	Links         Links             `json:"links"`
}

// ListConcepts responds with the list view of a source or collection. A
// retrieval is only issued when the query differs from the one last seen for
// this user and scope. If it does not complete within the timeout, the
// current state is returned flagged as loading.
func (h *Handler) ListConcepts(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Content-Type", "application/json")

	scope, err := scopeFromRequest(r)
	tID := tidutils.GetTransactionIDFromRequest(r)
	listLog := h.log.WithTransactionID(tID).WithField("path", r.URL.Path)
	if err != nil {
		listLog.WithError(err).Info("Invalid concepts path")
		writeMessage(w, err.Error(), http.StatusNotFound, listLog)
		return
	}

	baseCtx, err := requestContext(r, tID)
	if err != nil {
		listLog.WithError(err).Info("Malformed Authorization header")
		writeMessage(w, err.Error(), http.StatusBadRequest, listLog)
		return
	}
	ctx, cancel := context.WithTimeout(baseCtx, h.timeout)
	defer cancel()

	profile, orgs, err := h.currentUser(ctx)
	if err != nil {
		handleErrors(err, listLog, w)
		return
	}

	username := ""
	if profile != nil {
		username = profile.Username
	}
	key := view.Key(scope.Path(), username)
	listLog = listLog.WithField("key", key)

	resolved, err := h.coordinator.Sync(ctx, key, view.Location{Path: scope.Path(), RawQuery: r.URL.RawQuery})
	if err != nil {
		listLog.WithError(err).Error("Failed to synchronise the concepts view")
		writeMessage(w, "Concepts store is unavailable", http.StatusServiceUnavailable, listLog)
		return
	}

	if err = h.store.Await(ctx, key); err != nil {
		listLog.WithError(err).Warn("Concepts retrieval did not complete in time, responding with loading state")
	}

	snapshot, err := h.store.Snapshot(baseCtx, key)
	if err != nil {
		listLog.WithError(err).Error("Failed to read the concepts view")
		writeMessage(w, "Concepts store is unavailable", http.StatusServiceUnavailable, listLog)
		return
	}

	decision := permission.CanModifyContainer(scope.OwnerType, scope.Owner, profile, orgs)
	if !decision.IsAuthorized {
		listLog.Debugf("Container is read only for this user: %s", decision.Reasons)
	}

	response := newConceptList(scope, resolved.Request, snapshot, decision.IsAuthorized)
	if err = json.NewEncoder(w).Encode(&response); err != nil {
		listLog.WithError(err).Error("Failed to encode response")
	}
}

// GetConcept responds with a single concept, its mappings split by map type.
func (h *Handler) GetConcept(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Content-Type", "application/json")

	tID := tidutils.GetTransactionIDFromRequest(r)
	getLog := h.log.WithTransactionID(tID).WithField("path", r.URL.Path)

	scope, err := scopeFromRequest(r)
	if err != nil {
		getLog.WithError(err).Info("Invalid concept path")
		writeMessage(w, err.Error(), http.StatusNotFound, getLog)
		return
	}

	ctx, err := requestContext(r, tID)
	if err != nil {
		getLog.WithError(err).Info("Malformed Authorization header")
		writeMessage(w, err.Error(), http.StatusBadRequest, getLog)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	c, err := h.conceptsAPI.GetConcept(ctx, scope.Path()+mux.Vars(r)["id"]+"/")
	if err != nil {
		handleErrors(err, getLog, w)
		return
	}

	if err = json.NewEncoder(w).Encode(mapper.ToConcept(c)); err != nil {
		getLog.WithError(err).Error("Failed to encode response")
	}
}

func (h *Handler) currentUser(ctx context.Context) (*auth.Profile, []auth.Org, error) {
	profile, err := h.profiles.GetProfile(ctx)
	if err != nil || profile == nil {
		return nil, nil, err
	}
	orgs, err := h.profiles.GetOrgs(ctx)
	if err != nil {
		return nil, nil, err
	}
	return profile, orgs, nil
}

// newConceptList reports the list as loading until the store holds the
// committed result of req itself. Another query issued for the same key in
// the meantime leaves it loading.
func newConceptList(scope view.Scope, req view.Request, snapshot store.Snapshot, editable bool) ConceptList {
	params := req.Params
	concepts := snapshot.Concepts
	if concepts == nil {
		concepts = []concept.Concept{}
	}
	count := len(concepts)
	if snapshot.NumFound != nil {
		count = *snapshot.NumFound
	}

	list := ConceptList{
		Concepts: concepts,
		Count:    count,
		Loading:  !snapshot.SettledFor(req.Fingerprint()),
		Errors:   snapshot.Errors,
		Query:    params,
		Buttons: Buttons{
			Edit:            editable,
			AddToCollection: params.Collection != "",
		},
		Links: newLinks(scope.Path(), params, count),
	}
	if editable {
		list.AddConceptURL = addConceptURL(scope)
	}
	return list
}

func newLinks(path string, params query.Params, count int) Links {
	page := func(n int) query.Override {
		return query.Override{Page: &n}
	}
	links := Links{
		Self:  query.BuildURL(path, params, page(params.Page)),
		First: query.BuildURL(path, params, page(query.DefaultPage)),
		Filters: query.BuildURL(path, params, query.Override{
			ClassFilters:    []string{},
			DataTypeFilters: []string{},
		}),
	}
	if params.Page > query.DefaultPage {
		links.Previous = query.BuildURL(path, params, page(params.Page-1))
	}
	if params.Page*params.Limit < count {
		links.Next = query.BuildURL(path, params, page(params.Page+1))
	}
	return links
}

func addConceptURL(scope view.Scope) string {
	if scope.ContainerType == view.CollectionContainer {
		return CIELConceptsPath + "?" + url.Values{"collection": {scope.Path()}}.Encode()
	}
	return scope.Path() + "new/"
}

func scopeFromRequest(r *http.Request) (view.Scope, error) {
	vars := mux.Vars(r)
	s := view.Scope{
		OwnerType:     vars["ownerType"],
		Owner:         vars["owner"],
		ContainerType: vars["containerType"],
		Container:     vars["container"],
	}
	return view.ParseScope(s.Path())
}

func requestContext(r *http.Request, tID string) (context.Context, error) {
	ctx := tidutils.TransactionAwareContext(context.Background(), tID)
	authorization := auth.GetAuthorizationFromRequest(r)
	if authorization == "" {
		return ctx, nil
	}
	if _, err := auth.ParseAuthorization(authorization); err != nil {
		return nil, err
	}
	return auth.AuthorizationAwareContext(ctx, authorization), nil
}

func handleErrors(err error, entry *logger.LogEntry, w http.ResponseWriter) {
	if isTimeoutErr(err) {
		entry.WithError(err).Error("Timeout while calling the OCL API.")
		writeMessage(w, "Timeout while calling the OCL API", http.StatusGatewayTimeout, entry)
		return
	}

	var apiErr concept.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Body() != nil {
			entry.Info("OCL API responded with a client error, forwarding OCL API response back to client.")
			w.WriteHeader(apiErr.Status())
			w.Write(apiErr.Body())
			return
		}
		writeMessage(w, apiErr.Error(), apiErr.Status(), entry)
		return
	}

	if errors.Is(err, auth.ErrProfileUnavailable) {
		entry.WithError(err).Info("Could not resolve the user of the forwarded token")
		writeMessage(w, "Invalid or expired token", http.StatusUnauthorized, entry)
		return
	}

	if errors.Is(err, concept.ErrUnexpectedResponse) {
		entry.WithError(err).Error("OCL API failure")
		writeMessage(w, fmt.Sprintf("OCL API failure: %v", err), http.StatusServiceUnavailable, entry)
		return
	}
	entry.WithError(err).Error("Request failed")
	writeMessage(w, fmt.Sprintf("Failed to read concepts: %v", err), http.StatusInternalServerError, entry)
}

func isTimeoutErr(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func writeMessage(w http.ResponseWriter, msg string, status int, entry *logger.LogEntry) {
	w.WriteHeader(status)

	message := make(map[string]interface{})
	message["message"] = msg
	j, err := json.Marshal(&message)

	if err != nil {
		entry.WithError(err).Error("Failed to parse provided message to json, this is a bug.")
		return
	}

	_, err = w.Write(j)
	if err != nil {
		entry.WithError(err).Error("Failed to parse response message.")
	}
}
