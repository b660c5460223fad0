package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/surgery-scheduler-server/internal/domain"
	"github.com/surgery-scheduler-server/internal/service"
)

// Tool names
const (
	ToolPredictSurgery   = "predict_surgery"
	ToolCreateSchedule   = "create_schedule"
	ToolGenerateBatch    = "generate_batch"
	ToolModelPerformance = "model_performance"
)

// CreateScheduleParams defines parameters for create_schedule tool
type CreateScheduleParams struct {
	Surgeries []domain.SurgeryRequest `json:"surgeries"`
	StartDate string                  `json:"start_date"`
}

// GenerateBatchParams defines parameters for generate_batch tool
type GenerateBatchParams struct {
	Count     int    `json:"count,omitempty"`
	Seed      int64  `json:"seed,omitempty"`
	StartDate string `json:"start_date,omitempty"`
}

type toolHandler func(ctx context.Context, args json.RawMessage) *mcp.CallToolResult

type tool struct {
	definition *mcp.Tool
	handle     toolHandler
}

func (s *Server) tools() []tool {
	return []tool{
		{
			definition: &mcp.Tool{
				Name:        ToolPredictSurgery,
				Description: "Predict the duration, duration range and delay risk of a single surgery request",
				InputSchema: surgerySchema(),
			},
			handle: s.handlePredictSurgery,
		},
		{
			definition: &mcp.Tool{
				Name:        ToolCreateSchedule,
				Description: "Assign dates, start times and operating rooms to a list of surgery requests",
				InputSchema: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"surgeries": {
							Type:        "array",
							Description: "Surgery requests in scheduling order",
							Items:       surgerySchema(),
						},
						"start_date": {
							Type:        "string",
							Description: "First scheduling day, YYYY-MM-DD",
						},
					},
					Required: []string{"surgeries", "start_date"},
				},
			},
			handle: s.handleCreateSchedule,
		},
		{
			definition: &mcp.Tool{
				Name:        ToolGenerateBatch,
				Description: "Generate and schedule a synthetic batch of surgery requests",
				InputSchema: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"count": {
							Type:        "integer",
							Description: fmt.Sprintf("Batch size, at most %d; 0 uses the configured default", service.MaxGeneratedBatch),
						},
						"seed": {
							Type:        "integer",
							Description: "Generator seed for a reproducible batch",
						},
						"start_date": {
							Type:        "string",
							Description: "First scheduling day, YYYY-MM-DD; defaults to today",
						},
					},
				},
			},
			handle: s.handleGenerateBatch,
		},
		{
			definition: &mcp.Tool{
				Name:        ToolModelPerformance,
				Description: "Describe the parameters of the duration and delay model",
				InputSchema: &jsonschema.Schema{Type: "object"},
			},
			handle: s.handleModelPerformance,
		},
	}
}

func surgerySchema() *jsonschema.Schema {
	str := func(desc string) *jsonschema.Schema { return &jsonschema.Schema{Type: "string", Description: desc} }
	minutes := func(desc string) *jsonschema.Schema { return &jsonschema.Schema{Type: "integer", Description: desc + " in minutes"} }
	flag := &jsonschema.Schema{Type: "string", Enum: []any{"Y", "N"}}

	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"patient_age":      {Type: "integer"},
			"bmi":              {Type: "number"},
			"surgery_type":     str("e.g. Appendectomy, Hip Replacement"),
			"surgeon":          str("Surgeon name"),
			"anesthesiologist": str("Anesthesiologist name"),
			"nurse":            str("Nurse name"),
			"day_of_week":      str("Requested weekday"),
			"time_preference": {
				Type: "string",
				Enum: []any{string(domain.Morning), string(domain.Afternoon), string(domain.NoPreference)},
			},
			"pre_op_prep_time":    minutes("Pre-operative preparation"),
			"transfer_to_or_time": minutes("Transfer to the operating room"),
			"anesthesia_time":     minutes("Anesthesia induction"),
			"positioning_time":    minutes("Patient positioning"),
			"comorbidities":       str("Named condition, or None"),
			"instrument_ready":    flag,
			"pacu_bed_ready":      flag,
			"scheduled_start":     str("Requested start, HH:MM"),
		},
		Required: []string{"patient_age", "surgery_type"},
	}
}

func (s *Server) handlePredictSurgery(ctx context.Context, args json.RawMessage) *mcp.CallToolResult {
	var request domain.SurgeryRequest
	if err := unmarshalArgs(args, &request); err != nil {
		return s.createErrorResult("Invalid parameters", err)
	}
	if request.SurgeryType == "" {
		return s.createErrorResult("Missing required parameter", errors.New("surgery_type is required"))
	}

	prediction, err := s.service.Predict(ctx, &request)
	if err != nil {
		return s.serviceError(err)
	}
	return s.createJSONResult(prediction)
}

func (s *Server) handleCreateSchedule(ctx context.Context, args json.RawMessage) *mcp.CallToolResult {
	var params CreateScheduleParams
	if err := unmarshalArgs(args, &params); err != nil {
		return s.createErrorResult("Invalid parameters", err)
	}
	if params.StartDate == "" {
		return s.createErrorResult("Missing required parameter", errors.New("start_date is required"))
	}

	resp, err := s.service.CreateSchedule(ctx, &domain.ScheduleRequest{
		Surgeries: params.Surgeries,
		StartDate: params.StartDate,
	})
	if err != nil {
		return s.serviceError(err)
	}
	return s.createJSONResult(resp)
}

func (s *Server) handleGenerateBatch(ctx context.Context, args json.RawMessage) *mcp.CallToolResult {
	var params GenerateBatchParams
	if err := unmarshalArgs(args, &params); err != nil {
		return s.createErrorResult("Invalid parameters", err)
	}

	resp, err := s.service.GenerateBatch(ctx, params.Count, params.Seed, params.StartDate)
	if err != nil {
		return s.serviceError(err)
	}
	return s.createJSONResult(resp)
}

func (s *Server) handleModelPerformance(_ context.Context, _ json.RawMessage) *mcp.CallToolResult {
	return s.createJSONResult(s.service.ModelPerformance())
}

// unmarshalArgs treats missing arguments as an empty object.
func unmarshalArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	return json.Unmarshal(args, v)
}

func (s *Server) serviceError(err error) *mcp.CallToolResult {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return s.createErrorResult("Invalid input", verr)
	case errors.Is(err, domain.ErrBackendUnavailable):
		return s.createErrorResult("Scheduling backend unavailable", err)
	default:
		s.logger.WithError(err).Error("Tool call failed")
		return s.createErrorResult("Tool call failed", err)
	}
}

func (s *Server) createJSONResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return s.createErrorResult("Could not encode result", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}
}

// createErrorResult creates a standardized error result for tool calls
func (s *Server) createErrorResult(message string, err error) *mcp.CallToolResult {
	errorText := fmt.Sprintf("Error: %s", message)
	if err != nil {
		errorText += fmt.Sprintf(" - %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: errorText},
		},
		IsError: true,
	}
}
