package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/hexagonlabs/roster/pkg/apperrors"
	"github.com/hexagonlabs/roster/pkg/avatars"
	"github.com/hexagonlabs/roster/pkg/httputil"
	"github.com/hexagonlabs/roster/pkg/identity"
	"github.com/hexagonlabs/roster/pkg/middleware"
)

// AuthHandlers serves registration, login, and self-service account routes
type AuthHandlers struct {
	gateway  *Gateway
	identity identity.Service
	avatars  *avatars.Store // nil disables avatar uploads
}

// NewAuthHandlers creates the handlers
func NewAuthHandlers(gateway *Gateway, identitySvc identity.Service, avatarStore *avatars.Store) *AuthHandlers {
	return &AuthHandlers{
		gateway:  gateway,
		identity: identitySvc,
		avatars:  avatarStore,
	}
}

// RegisterRoutes registers auth and self-service routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/register", h.register).Methods("POST")
	router.HandleFunc("/auth/login", h.login).Methods("POST")
	router.HandleFunc("/auth/logout", h.logout).Methods("POST")

	router.HandleFunc("/me", h.getMe).Methods("GET")
	router.HandleFunc("/me", h.updateMe).Methods("PATCH")
	router.HandleFunc("/me/avatar", h.uploadAvatar).Methods("PUT")
	router.HandleFunc("/me/orgs", h.listMyOrgs).Methods("GET")
	router.HandleFunc("/me/memberships", h.listMyMemberships).Methods("GET")

	router.HandleFunc("/users", h.listUsers).Methods("GET")
	router.HandleFunc("/users/{username}", h.getUser).Methods("GET")
}

func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req identity.RegisterRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, token, err := h.identity.Register(r.Context(), req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteCreated(w, AuthResponse{Token: token, User: toUserResponse(user)})
}

func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, token, err := h.identity.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, AuthResponse{Token: token, User: toUserResponse(user)})
}

func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	if authCtx == nil || authCtx.Token == nil {
		httputil.WriteAppError(w, apperrors.Unauthenticated("authentication required"))
		return
	}

	// The middleware already verified the token; revoke by its stored hash
	if err := h.identity.RevokeTokenByHash(r.Context(), authCtx.Token.TokenHash); err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

func (h *AuthHandlers) getMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.CallerUser(r)
	if user == nil {
		httputil.WriteAppError(w, apperrors.Unauthenticated("authentication required"))
		return
	}
	httputil.WriteSuccess(w, toUserResponse(user))
}

func (h *AuthHandlers) updateMe(w http.ResponseWriter, r *http.Request) {
	var req identity.UpdateProfileRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.gateway.UpdateMyProfile(r.Context(), middleware.CallerUser(r), req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, toUserResponse(user))
}

func (h *AuthHandlers) uploadAvatar(w http.ResponseWriter, r *http.Request) {
	user := middleware.CallerUser(r)
	if user == nil {
		httputil.WriteAppError(w, apperrors.Unauthenticated("authentication required"))
		return
	}
	if h.avatars == nil {
		httputil.WriteServiceUnavailable(w, "avatar storage is not configured")
		return
	}

	url, err := h.avatars.Put(r.Context(), user.ID, r.Body, r.Header.Get("Content-Type"))
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	updated, err := h.gateway.UpdateMyProfile(r.Context(), user, identity.UpdateProfileRequest{ProfileImage: &url})
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, toUserResponse(updated))
}

func (h *AuthHandlers) listMyOrgs(w http.ResponseWriter, r *http.Request) {
	list, err := h.gateway.ListMyOrganisations(r.Context(), middleware.CallerUser(r))
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, toOrgResponses(list))
}

func (h *AuthHandlers) listMyMemberships(w http.ResponseWriter, r *http.Request) {
	list, err := h.gateway.ListMyMemberships(r.Context(), middleware.CallerUser(r))
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, toMembershipResponses(list))
}

func (h *AuthHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerUser(r)
	if caller == nil {
		httputil.WriteAppError(w, apperrors.Unauthenticated("authentication required"))
		return
	}
	if !caller.IsStaff && !caller.IsSuperuser {
		httputil.WriteAppError(w, apperrors.PermissionDenied("staff privileges required"))
		return
	}

	users, err := h.identity.ListUsers(r.Context())
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	result := make([]UserResponse, 0, len(users))
	for _, u := range users {
		result = append(result, toUserResponse(u))
	}
	httputil.WriteSuccess(w, result)
}

func (h *AuthHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	if middleware.CallerUser(r) == nil {
		httputil.WriteAppError(w, apperrors.Unauthenticated("authentication required"))
		return
	}

	username, ok := httputil.ParsePathStringOrError(w, r, "username")
	if !ok {
		return
	}

	user, err := h.identity.GetByUsername(r.Context(), username)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	httputil.WriteSuccess(w, toUserResponse(user))
}
