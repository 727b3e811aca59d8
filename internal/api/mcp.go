package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/carprice/internal/catalog"
	"github.com/kalambet/carprice/internal/form"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Catalog    *catalog.Catalog
	Controller *form.Controller
	Version    string
}

// NewMCPServer creates an MCP server exposing the catalog and the price
// predictor as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"carprice",
		version,
		server.WithToolCapabilities(false),
		server.WithInstructions("carprice: predicts the resale price of a used car. List the catalog values first; predict_price only accepts values that appear in them."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_companies",
			mcp.WithDescription("List the car manufacturers present in the catalog, in ascending order."),
		),
		mcpListCompanies(deps),
	)

	s.AddTool(
		mcp.NewTool("list_models",
			mcp.WithDescription("List the car models sold by a manufacturer. Returns an empty list for an unknown manufacturer."),
			mcp.WithString("company", mcp.Description("Manufacturer, as returned by list_companies"), mcp.Required()),
		),
		mcpListModels(deps),
	)

	s.AddTool(
		mcp.NewTool("list_fuel_types",
			mcp.WithDescription("List the fuel types present in the catalog."),
		),
		mcpListFuelTypes(deps),
	)

	s.AddTool(
		mcp.NewTool("list_years",
			mcp.WithDescription("List the purchase years present in the catalog, most recent first."),
		),
		mcpListYears(deps),
	)

	s.AddTool(
		mcp.NewTool("predict_price",
			mcp.WithDescription("Predict the resale price of a car."),
			mcp.WithString("company", mcp.Description("Manufacturer"), mcp.Required()),
			mcp.WithString("name", mcp.Description("Model name, as returned by list_models"), mcp.Required()),
			mcp.WithString("fuel_type", mcp.Description("Fuel type"), mcp.Required()),
			mcp.WithNumber("year", mcp.Description("Year of purchase"), mcp.Required()),
			mcp.WithNumber("kms_driven", mcp.Description("Kilometres travelled (default 0)")),
		),
		mcpPredictPrice(deps),
	)

	return s
}

func mcpListCompanies(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(deps.Catalog.Companies()), nil
	}
}

func mcpListModels(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		company, err := req.RequireString("company")
		if err != nil {
			return mcpError("company is required"), nil
		}
		return mcpJSON(deps.Catalog.ModelsForCompany(company)), nil
	}
}

func mcpListFuelTypes(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(deps.Catalog.FuelTypes()), nil
	}
}

func mcpListYears(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(deps.Catalog.Years()), nil
	}
}

func mcpPredictPrice(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var sel form.Selection
		var err error
		if sel.Company, err = req.RequireString("company"); err != nil {
			return mcpError("company is required"), nil
		}
		if sel.Model, err = req.RequireString("name"); err != nil {
			return mcpError("name is required"), nil
		}
		if sel.FuelType, err = req.RequireString("fuel_type"); err != nil {
			return mcpError("fuel_type is required"), nil
		}
		year, ok, err := wholeNumberArg(req, "year")
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if !ok {
			return mcpError("year is required"), nil
		}
		sel.Year = year
		if sel.KmsDriven, _, err = wholeNumberArg(req, "kms_driven"); err != nil {
			return mcpError(err.Error()), nil
		}

		est, err := deps.Controller.Estimate(ctx, sel)
		if err != nil {
			return mcpError(fmt.Sprintf("prediction failed: %v", err)), nil
		}
		return mcpJSON(predictResponse{Estimate: est, Selection: sel}), nil
	}
}

// wholeNumberArg reads an integer argument. JSON numbers with a fractional
// part are rejected rather than truncated. ok is false when key is absent.
func wholeNumberArg(req mcp.CallToolRequest, key string) (n int, ok bool, err error) {
	v, present := req.GetArguments()[key]
	if !present || v == nil {
		return 0, false, nil
	}
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) || math.Abs(x) > math.MaxInt32 {
			return 0, true, fmt.Errorf("%s must be a whole number", key)
		}
		return int(x), true, nil
	case int:
		return x, true, nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, true, fmt.Errorf("%s must be a whole number", key)
		}
		return n, true, nil
	}
	return 0, true, fmt.Errorf("%s must be a whole number", key)
}

func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
