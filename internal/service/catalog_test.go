package service

import (
	"testing"

	"github.com/vincibusa/bibigin-admin-sub000/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestProductInputValidate(t *testing.T) {
	valid := ProductInput{SKU: "GIN-001", Name: "London Dry", Price: 3500, Stock: 10}
	assert.NoError(t, valid.validate())

	cases := []struct {
		name   string
		mutate func(in *ProductInput)
	}{
		{"missing sku", func(in *ProductInput) { in.SKU = "" }},
		{"missing name", func(in *ProductInput) { in.Name = "" }},
		{"negative price", func(in *ProductInput) { in.Price = -1 }},
		{"negative stock", func(in *ProductInput) { in.Stock = -1 }},
		{"unknown status", func(in *ProductInput) { in.Status = "discontinued" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := valid
			tc.mutate(&in)
			var validationErr *ValidationError
			assert.ErrorAs(t, in.validate(), &validationErr)
		})
	}
}

func TestProductInputNormalizedStatus(t *testing.T) {
	cases := []struct {
		name     string
		stock    int
		status   string
		expected string
	}{
		{"default is active", 5, "", models.ProductStatusActive},
		{"zero stock flips to out_of_stock", 0, models.ProductStatusActive, models.ProductStatusOutOfStock},
		{"restocked flips back to active", 3, models.ProductStatusOutOfStock, models.ProductStatusActive},
		{"inactive stays inactive", 0, models.ProductStatusInactive, models.ProductStatusInactive},
		{"active with stock unchanged", 7, models.ProductStatusActive, models.ProductStatusActive},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := ProductInput{Stock: tc.stock, Status: tc.status}
			assert.Equal(t, tc.expected, in.normalizedStatus())
		})
	}
}
