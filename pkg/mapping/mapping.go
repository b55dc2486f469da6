// Package mapping renders unified objects through owner-defined JMESPath expressions.
package mapping

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/jmespath/go-jmespath"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Renderer compiles expressions once and reuses them across renders.
type Renderer struct {
	cache map[string]*jmespath.JMESPath
	mu    sync.RWMutex
}

func NewRenderer() *Renderer {
	return &Renderer{
		cache: make(map[string]*jmespath.JMESPath),
	}
}

// Validate returns a 400 HTTP error for an expression that does not compile.
func (r *Renderer) Validate(expression string) error {
	if _, err := r.compile(expression); err != nil {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid expression: %s", err.Error())
	}
	return nil
}

// Render evaluates the mapping against the object's document form.
func (r *Renderer) Render(mapping *models.SchemaMapping, obj *models.UnifiedObject) (any, error) {
	compiled, err := r.compile(mapping.Expression)
	if err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusUnprocessableEntity, "stored mapping %s does not compile: %s", mapping.ID, err.Error())
	}

	doc, err := Document(obj)
	if err != nil {
		return nil, err
	}

	result, err := compiled.Search(doc)
	if err != nil {
		return nil, httperror.NewHTTPErrorf(http.StatusUnprocessableEntity, "failed to evaluate mapping %s: %s", mapping.ID, err.Error())
	}
	return result, nil
}

// Document is the value expressions run against: the object's JSON fields,
// with metadata_normalized and metadata_raw nested under their own keys.
func Document(obj *models.UnifiedObject) (map[string]any, error) {
	b, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal object: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to build document: %w", err)
	}
	return doc, nil
}

func (r *Renderer) compile(expression string) (*jmespath.JMESPath, error) {
	r.mu.RLock()
	if compiled, ok := r.cache[expression]; ok {
		r.mu.RUnlock()
		return compiled, nil
	}
	r.mu.RUnlock()

	compiled, err := jmespath.Compile(expression)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[expression] = compiled
	r.mu.Unlock()
	return compiled, nil
}
