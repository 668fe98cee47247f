// Package proxy is the Host-header routing TCP proxy the website scenario is
// aimed at.
//
// The first HTTP header on a connection picks a backend from the Registry;
// after that the connection is spliced through unparsed, so keep-alive
// requests stay on the backend chosen first.
package proxy
