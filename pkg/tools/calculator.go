// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/stacklok/mcpgate/pkg/auth"
	"github.com/stacklok/mcpgate/pkg/config"
)

// ErrDivisionByZero is returned by divide_numbers when the divisor is zero.
var ErrDivisionByZero = errors.New("Cannot divide by zero") //nolint:staticcheck // user-facing message

type operands struct {
	A *float64 `json:"a"`
	B *float64 `json:"b"`
}

type binaryOp func(a, b float64) (float64, error)

// CalculatorTools returns the arithmetic tools, all gated by use:calculator.
func CalculatorTools() []Tool {
	return []Tool{
		calculatorTool("add_numbers", "Add two numbers together.", "First number", "Second number",
			func(a, b float64) (float64, error) { return a + b, nil }),
		calculatorTool("subtract_numbers", "Subtract b from a.", "Number to subtract from", "Number to subtract",
			func(a, b float64) (float64, error) { return a - b, nil }),
		calculatorTool("multiply_numbers", "Multiply two numbers together.", "First number", "Second number",
			func(a, b float64) (float64, error) { return a * b, nil }),
		calculatorTool("divide_numbers", "Divide a by b.", "Numerator", "Denominator", Divide),
	}
}

// Divide returns a / b, or ErrDivisionByZero without dividing when b is zero.
func Divide(a, b float64) (float64, error) {
	if b == 0 {
		return 0, ErrDivisionByZero
	}
	return a / b, nil
}

func calculatorTool(name, description, aDesc, bDesc string, op binaryOp) Tool {
	return Tool{
		Name:        name,
		Description: description,
		Scopes:      []string{config.ScopeUseCalculator},
		Params: []mcp.ToolOption{
			mcp.WithNumber("a", mcp.Required(), mcp.Description(aDesc)),
			mcp.WithNumber("b", mcp.Required(), mcp.Description(bDesc)),
		},
		Handler: func(_ context.Context, _ *auth.Principal, args Arguments) (any, error) {
			var in operands
			if err := bind(args, &in); err != nil {
				return nil, err
			}
			if in.A == nil || in.B == nil {
				return nil, fmt.Errorf("%w: a and b are required", ErrInvalidArguments)
			}
			return op(*in.A, *in.B)
		},
	}
}
