/******************************************************************************
 *
 *  Description :
 *    Request authentication. The host forum terminates the user session;
 *    requests arrive with a signed application key and the already
 *    authenticated username.
 *
 *****************************************************************************/

package main

import (
	"net/http"

	"github.com/banter-chat/banter/server/guardian"
)

type authHandler func(wrt http.ResponseWriter, req *http.Request, gdn *guardian.Guardian)

// withAuth validates the API key and resolves the acting principal,
// referenced by uid or username. An absent reference is an anonymous
// caller, not a failure; a reference the host directory does not know is
// rejected.
func withAuth(fn authHandler) http.HandlerFunc {
	return func(wrt http.ResponseWriter, req *http.Request) {
		if ok, _ := checkAPIKey(getAPIKey(req)); !ok {
			writeJSON(wrt, http.StatusUnauthorized, &MsgError{Errors: []string{"valid API key required"}})
			return
		}

		username := req.Header.Get("X-Banter-User")
		if username == "" {
			fn(wrt, req, guardian.New(nil))
			return
		}

		user, err := resolveUser(username)
		if err != nil {
			writeError(wrt, err)
			return
		}
		if user == nil {
			writeJSON(wrt, http.StatusUnauthorized, &MsgError{Errors: []string{"unknown user"}})
			return
		}
		fn(wrt, req, guardian.New(user))
	}
}
