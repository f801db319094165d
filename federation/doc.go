// Package federation turns an external OAuth2 sign-in into a
// qauth.FederatedIdentity for Engine.LoginFederated.
package federation
