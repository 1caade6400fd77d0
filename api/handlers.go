package api

import (
	"context"
	"net/http"
	"time"

	"ruleengine/core"
	"ruleengine/rules"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

var requestValidator = validator.New()

type parseRequest struct {
	Rule string `json:"rule" validate:"required,max=10000"`
}

type parseResponse struct {
	Rule       string             `json:"rule"`
	Canonical  string             `json:"canonical"`
	Attributes []string           `json:"attributes"`
	Depth      int                `json:"depth"`
	Nodes      int                `json:"nodes"`
	Tree       []rules.NodeRecord `json:"tree"`
}

type evaluateRequest struct {
	Rule       string                 `json:"rule" validate:"required,max=10000"`
	Attributes map[string]interface{} `json:"attributes" validate:"required"`
}

type attributesRequest struct {
	Attributes map[string]interface{} `json:"attributes" validate:"required"`
}

type evaluateResponse struct {
	Result bool `json:"result"`
}

type combineRequest struct {
	Rules    []string `json:"rules" validate:"required,min=1,max=100,dive,required,max=10000"`
	Operator string   `json:"operator" validate:"omitempty,oneof=AND OR and or"`
}

type combineResponse struct {
	Rule string             `json:"rule"`
	Tree []rules.NodeRecord `json:"tree"`
}

type createRuleRequest struct {
	Name string `json:"name" validate:"max=200"`
	Rule string `json:"rule" validate:"required,max=10000"`
}

type conditionRequest struct {
	Rule     string `json:"rule" validate:"required,max=10000"`
	Operator string `json:"operator" validate:"omitempty,oneof=AND OR and or"`
}

type updateNodeRequest struct {
	// Path is a string of L and R steps from the root; empty selects the root
	Path  string `json:"path" validate:"max=1024"`
	Value string `json:"value" validate:"required,max=10000"`
}

type ruleResponse struct {
	*core.StoredRule
	Tree []rules.NodeRecord `json:"tree,omitempty"`
}

type catalogResponse struct {
	Attributes []core.Attribute `json:"attributes"`
}

// bind decodes and validates a request body, writing a 400 on failure
func (a *API) bind(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := decodeJSON(w, r, dest); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request", err, a.logger)
		return false
	}
	if err := requestValidator.Struct(dest); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "validation_failed", err, a.logger)
		return false
	}
	return true
}

// attributes converts decoded JSON attribute values, writing a 400 on failure
func (a *API) attributes(w http.ResponseWriter, raw map[string]interface{}) (core.Attributes, bool) {
	attrs, err := core.AttributesFrom(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_attributes", err, a.logger)
		return nil, false
	}
	return attrs, true
}

// logicalOp parses an optional operator, defaulting to AND
func logicalOp(s string) rules.LogicalOp {
	if s == "" {
		return rules.And
	}
	kind, err := rules.ParseLogicalOp(s)
	if err != nil {
		return rules.And
	}
	return kind
}

// parseRule validates a rule and returns its tree
//
//	POST /api/v1/rules/parse {"rule": "age > 30 AND department = 'Sales'"}
func (a *API) parseRule(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if !a.bind(w, r, &req) {
		return
	}

	tree, err := a.ruleService.Parse(req.Rule)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	a.respondJSON(w, parseResponse{
		Rule:       req.Rule,
		Canonical:  rules.String(tree),
		Attributes: rules.ReferencedAttributes(tree),
		Depth:      rules.Depth(tree),
		Nodes:      rules.CountLeaves(tree) + rules.CountOperators(tree),
		Tree:       rules.Flatten(tree),
	}, http.StatusOK)
}

// evaluateRule evaluates ad hoc rule text against attributes
func (a *API) evaluateRule(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !a.bind(w, r, &req) {
		return
	}
	attrs, ok := a.attributes(w, req.Attributes)
	if !ok {
		return
	}

	result, err := a.ruleService.Evaluate(r.Context(), req.Rule, attrs)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, evaluateResponse{Result: result}, http.StatusOK)
}

// combineRules joins several rules with one logical operator
func (a *API) combineRules(w http.ResponseWriter, r *http.Request) {
	var req combineRequest
	if !a.bind(w, r, &req) {
		return
	}

	tree, err := a.ruleService.CombineRules(req.Rules, logicalOp(req.Operator))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, combineResponse{Rule: rules.String(tree), Tree: rules.Flatten(tree)}, http.StatusOK)
}

func (a *API) listRules(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request", err, a.logger)
		return
	}

	page, err := a.ruleService.ListRules(r.Context(), limit, offset)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, page, http.StatusOK)
}

func (a *API) createRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if !a.bind(w, r, &req) {
		return
	}

	rule, err := a.ruleService.CreateRule(r.Context(), req.Name, req.Rule)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, rule, http.StatusCreated)
}

func (a *API) getRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rule, err := a.ruleService.GetRule(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	tree, err := a.ruleService.LoadTree(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, ruleResponse{StoredRule: rule, Tree: rules.Flatten(tree)}, http.StatusOK)
}

func (a *API) deleteRule(w http.ResponseWriter, r *http.Request) {
	if err := a.ruleService.DeleteRule(r.Context(), mux.Vars(r)["id"]); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) evaluateStoredRule(w http.ResponseWriter, r *http.Request) {
	var req attributesRequest
	if !a.bind(w, r, &req) {
		return
	}
	attrs, ok := a.attributes(w, req.Attributes)
	if !ok {
		return
	}

	result, err := a.ruleService.EvaluateStored(r.Context(), mux.Vars(r)["id"], attrs)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, evaluateResponse{Result: result}, http.StatusOK)
}

// addCondition joins a new rule onto a stored rule
func (a *API) addCondition(w http.ResponseWriter, r *http.Request) {
	var req conditionRequest
	if !a.bind(w, r, &req) {
		return
	}

	rule, err := a.ruleService.AddCondition(r.Context(), mux.Vars(r)["id"], req.Rule, logicalOp(req.Operator))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, rule, http.StatusOK)
}

// removeCondition prunes comparisons equal to the "condition" query parameter
//
//	DELETE /api/v1/rules/{id}/conditions?condition=salary%20<%3D%2050000
func (a *API) removeCondition(w http.ResponseWriter, r *http.Request) {
	condition := r.URL.Query().Get("condition")
	if condition == "" {
		writeError(w, http.StatusBadRequest, "condition query parameter is required", "invalid_request", nil, a.logger)
		return
	}

	rule, err := a.ruleService.RemoveCondition(r.Context(), mux.Vars(r)["id"], condition)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, rule, http.StatusOK)
}

func (a *API) updateNode(w http.ResponseWriter, r *http.Request) {
	var req updateNodeRequest
	if !a.bind(w, r, &req) {
		return
	}

	rule, err := a.ruleService.UpdateNode(r.Context(), mux.Vars(r)["id"], req.Path, req.Value)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	a.respondJSON(w, rule, http.StatusOK)
}

func (a *API) getCatalog(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, catalogResponse{Attributes: a.ruleService.Catalog().Attributes()}, http.StatusOK)
}

// healthCheck runs every registered checker with a short timeout
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	checks := make(map[string]string, len(a.health))
	for name, check := range a.health {
		if err := check(ctx); err != nil {
			a.logger.Warnw("Health check failed", "check", name, "error", err)
			checks[name] = "unhealthy"
			status = "degraded"
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	a.respondJSON(w, map[string]interface{}{
		"status": status,
		"checks": checks,
		"time":   time.Now().UTC().Format(time.RFC3339),
	}, code)
}
