package rest

import "net/http"

const HeaderEndpointName = "X-Endpoint-Name"

type PingHandler interface {
	PingHandler(w http.ResponseWriter, _ *http.Request)
}

type pingHandler struct {
	name string
}

// NewPingHandler - answers health checks of the link server, naming the local endpoint.
func NewPingHandler(name string) PingHandler {
	return &pingHandler{name: name}
}

func (that *pingHandler) PingHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set(HeaderEndpointName, that.name)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("pong")); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
}
