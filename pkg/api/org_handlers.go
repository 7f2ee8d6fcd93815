package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/hexagonlabs/roster/pkg/httputil"
	"github.com/hexagonlabs/roster/pkg/middleware"
	"github.com/hexagonlabs/roster/pkg/orgs"
)

// OrgHandlers serves organisation and membership routes. Every operation
// goes through the gateway's authorize-then-mutate sequence.
type OrgHandlers struct {
	gateway *Gateway
}

// NewOrgHandlers creates the handlers
func NewOrgHandlers(gateway *Gateway) *OrgHandlers {
	return &OrgHandlers{gateway: gateway}
}

// RegisterRoutes registers organisation routes
func (h *OrgHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orgs", h.createOrg).Methods("POST")
	router.HandleFunc("/orgs/slug/{slug}", h.getOrgBySlug).Methods("GET")
	router.HandleFunc("/orgs/{ref}", h.getOrg).Methods("GET")
	router.HandleFunc("/orgs/{ref}", h.updateOrg).Methods("PATCH")

	router.HandleFunc("/orgs/{ref}/memberships", h.listMembers).Methods("GET")
	router.HandleFunc("/orgs/{ref}/members", h.addMember).Methods("POST")
	router.HandleFunc("/orgs/{ref}/members/{username}", h.setAdminFlag).Methods("PUT")
	router.HandleFunc("/orgs/{ref}/members/{username}", h.removeMember).Methods("DELETE")
}

func (h *OrgHandlers) createOrg(w http.ResponseWriter, r *http.Request) {
	var req orgs.CreateOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	org, err := h.gateway.CreateOrganisation(r.Context(), middleware.CallerUser(r), req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteCreated(w, toOrgResponse(org))
}

func (h *OrgHandlers) getOrg(w http.ResponseWriter, r *http.Request) {
	ref, ok := httputil.ParsePathStringOrError(w, r, "ref")
	if !ok {
		return
	}

	org, err := h.gateway.ViewOrganisation(r.Context(), middleware.CallerUser(r), ref)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, toOrgResponse(org))
}

func (h *OrgHandlers) getOrgBySlug(w http.ResponseWriter, r *http.Request) {
	slug, ok := httputil.ParsePathStringOrError(w, r, "slug")
	if !ok {
		return
	}

	org, err := h.gateway.ViewOrganisationBySlug(r.Context(), middleware.CallerUser(r), slug)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, toOrgResponse(org))
}

func (h *OrgHandlers) updateOrg(w http.ResponseWriter, r *http.Request) {
	ref, ok := httputil.ParsePathStringOrError(w, r, "ref")
	if !ok {
		return
	}

	var req orgs.UpdateOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	org, err := h.gateway.UpdateOrganisation(r.Context(), middleware.CallerUser(r), ref, req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, toOrgResponse(org))
}

func (h *OrgHandlers) listMembers(w http.ResponseWriter, r *http.Request) {
	ref, ok := httputil.ParsePathStringOrError(w, r, "ref")
	if !ok {
		return
	}

	members, err := h.gateway.ListOrgMembers(r.Context(), middleware.CallerUser(r), ref)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, toMembershipResponses(members))
}

func (h *OrgHandlers) addMember(w http.ResponseWriter, r *http.Request) {
	ref, ok := httputil.ParsePathStringOrError(w, r, "ref")
	if !ok {
		return
	}

	var req addMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	m, err := h.gateway.AddMember(r.Context(), middleware.CallerUser(r), ref, req.Username, req.IsOrgAdmin)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteCreated(w, toMembershipResponse(m))
}

func (h *OrgHandlers) setAdminFlag(w http.ResponseWriter, r *http.Request) {
	ref, ok := httputil.ParsePathStringOrError(w, r, "ref")
	if !ok {
		return
	}
	username, ok := httputil.ParsePathStringOrError(w, r, "username")
	if !ok {
		return
	}

	var req setAdminFlagRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	m, err := h.gateway.SetMemberAdminFlag(r.Context(), middleware.CallerUser(r), ref, username, req.IsOrgAdmin)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, toMembershipResponse(m))
}

func (h *OrgHandlers) removeMember(w http.ResponseWriter, r *http.Request) {
	ref, ok := httputil.ParsePathStringOrError(w, r, "ref")
	if !ok {
		return
	}
	username, ok := httputil.ParsePathStringOrError(w, r, "username")
	if !ok {
		return
	}

	if err := h.gateway.RemoveMember(r.Context(), middleware.CallerUser(r), ref, username); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}
