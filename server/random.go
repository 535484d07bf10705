package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mnehpets/mcpgate/auth"
	"github.com/mnehpets/mcpgate/capability"
	"github.com/mnehpets/mcpgate/endpoint"
)

type randomParams struct {
	Min *string `query:"min"`
	Max *string `query:"max"`
}

// RandomResponse is the body of GET /api/v1/random.
type RandomResponse struct {
	Number    int    `json:"number"`
	Min       int    `json:"min"`
	Max       int    `json:"max"`
	Client    string `json:"client"`
	Timestamp string `json:"timestamp"`
}

type randomEndpoint struct {
	random func(lo, hi int) (int, error)
	now    func() time.Time
}

func (e *randomEndpoint) Endpoint(w http.ResponseWriter, r *http.Request, params randomParams) (endpoint.Renderer, error) {
	lo, errLo := boundParam(params.Min, capability.DefaultMin)
	hi, errHi := boundParam(params.Max, capability.DefaultMax)
	if err := errors.Join(errLo, errHi); err != nil {
		return nil, endpoint.Error(http.StatusBadRequest, capability.ErrNotInteger.Message, err)
	}

	n, err := e.random(lo, hi)
	if err != nil {
		var ve *capability.ValidationError
		if errors.As(err, &ve) {
			return nil, endpoint.Error(http.StatusBadRequest, ve.Message, err)
		}
		return nil, err
	}

	id, _ := auth.IdentityFromContext(r.Context())
	return &endpoint.JSONRenderer{Value: &RandomResponse{
		Number:    n,
		Min:       lo,
		Max:       hi,
		Client:    id.Name,
		Timestamp: e.now().UTC().Format(time.RFC3339),
	}}, nil
}

// boundParam parses an optional integer query value. Absent or blank
// values give def.
func boundParam(v *string, def int) (int, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return def, nil
	}
	return strconv.Atoi(strings.TrimSpace(*v))
}
