// Package credentials persists vendor account credentials.
//
// The bearer token issued by the Sampo Exohome cloud is valid for about
// a month; persisting it means a bridge restart inside that window does
// a websocket login with the stored token instead of a full credential
// login. Records are keyed by account email and rewritten on every
// token refresh.
//
// The store satisfies exohome.CredentialStore.
package credentials
