// Package retrieval fans a query out across up to three search
// backends and fuses the results into one ranked document list.
package retrieval

import (
	"context"
	"errors"

	"github.com/openlotse/lotse/pkg/models"
)

// ErrBackendUnavailable indicates a backend could not serve a search.
// The engine logs it and treats the backend's contribution as empty.
var ErrBackendUnavailable = errors.New("retrieval backend unavailable")

// Method identifies which retrieval method scored a document.
type Method string

// Retrieval methods.
const (
	MethodSemantic Method = "semantic"
	MethodKeyword  Method = "keyword"
	MethodGraph    Method = "graph"
)

// Backend is one retrieval method. Implementations populate the score
// component appropriate to their method (semantic, keyword or graph)
// and set the matching Has* flag.
type Backend interface {
	// Search returns up to topK documents ranked best-first.
	Search(ctx context.Context, query string, topK int) ([]models.Document, error)

	// Method reports which score component this backend populates.
	Method() Method
}
