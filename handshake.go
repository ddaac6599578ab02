package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// handshakePrefix marks the URL carrying the collector parameters
const handshakePrefix = "data:,xltParameters"

var errIncompleteHandshake = errors.New("incomplete handshake URL")

// connector opens the collector connection
type connector interface {
	Connect(params connectParams)
}

func isHandshakeURL(rawURL string) bool {
	return strings.HasPrefix(rawURL, handshakePrefix)
}

// parseHandshake reads the recorder configuration from a handshake URL.
// Parameters are split on "&" and "=" and taken as they are, without
// unescaping. Connect is nil when the port or the client id is missing.
func parseHandshake(rawURL string) (settings, error) {
	if !isHandshakeURL(rawURL) {
		return settings{}, fmt.Errorf("not a handshake URL: %s", rawURL)
	}

	query := rawURL[len(handshakePrefix):]
	if i := strings.Index(query, "?"); i > -1 {
		query = query[i+1:]
	} else {
		query = ""
	}
	if i := strings.Index(query, "#"); i > -1 {
		query = query[:i]
	}

	params := map[string]string{}
	for _, pair := range strings.Split(strings.TrimSpace(query), "&") {
		name, value, _ := strings.Cut(pair, "=")
		if name != "" {
			params[name] = value
		}
	}

	s := settings{
		RecordIncompleted: strings.EqualFold(params["recordIncompleted"], "true"),
		UseSessionStorage: strings.EqualFold(params["useSessionStorage"], "true"),
	}
	if params["xltPort"] == "" || params["clientID"] == "" {
		return s, errIncompleteHandshake
	}

	s.Connect = &connectParams{Port: params["xltPort"], ClientID: params["clientID"]}
	return s, nil
}

// applyHandshake configures agg from a handshake URL and connects to the
// collector when the URL names one. An incomplete URL still configures the
// recorder but is otherwise ignored.
func applyHandshake(rawURL string, agg *Aggregator, conn connector) {
	s, err := parseHandshake(rawURL)
	if err != nil && !errors.Is(err, errIncompleteHandshake) {
		log.Warn().Err(err).Msg("ignoring handshake")
		return
	}

	agg.Configure(s)

	if s.Connect == nil {
		log.Info().Str("url", rawURL).Msg("incomplete handshake URL, not connecting")
		return
	}

	log.Info().
		Str("port", s.Connect.Port).
		Str("clientID", s.Connect.ClientID).
		Bool("recordIncompleted", s.RecordIncompleted).
		Bool("useSessionStorage", s.UseSessionStorage).
		Msg("handshake received")

	if conn != nil {
		conn.Connect(*s.Connect)
	}
}
