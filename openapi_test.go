package main_test

import (
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("API contract", func() {
	var doc *openapi3.T

	BeforeEach(func() {
		loader := openapi3.NewLoader()
		var err error
		doc, err = loader.LoadFromFile("api/openapi.yml")
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.Validate(loader.Context)).To(Succeed())
	})

	It("should describe the service", func() {
		Expect(doc.Info.Title).To(Equal("Payment Hub API"))
		Expect(doc.Servers).To(HaveLen(1))
		Expect(doc.Servers[0].URL).To(Equal("/api/v1"))
	})

	It("should document every mounted route", func() {
		for path, methods := range map[string][]string{
			"/health":                       {http.MethodGet},
			"/ping":                         {http.MethodGet},
			"/gateways":                     {http.MethodGet},
			"/payments":                     {http.MethodPost},
			"/payments/{reference}":         {http.MethodGet},
			"/payments/{reference}/verify":  {http.MethodPost},
			"/payments/{reference}/cancel":  {http.MethodPost},
			"/payments/{reference}/refunds": {http.MethodPost, http.MethodGet},
			"/refunds/{reference}":          {http.MethodGet},
			"/webhooks/{gateway}":           {http.MethodPost},
		} {
			item := doc.Paths.Find(path)
			Expect(item).NotTo(BeNil(), "missing path %s", path)
			for _, method := range methods {
				Expect(item.GetOperation(method)).NotTo(BeNil(), "missing %s %s", method, path)
			}
		}
	})

	It("should keep the payment status enum aligned", func() {
		schema := doc.Components.Schemas["Payment"]
		Expect(schema).NotTo(BeNil())
		status := schema.Value.Properties["status"]
		Expect(status.Value.Enum).To(ConsistOf("initiated", "pending", "success", "failed", "refunded", "expired"))
	})

	It("should keep the refund status enum aligned", func() {
		schema := doc.Components.Schemas["Refund"]
		Expect(schema).NotTo(BeNil())
		status := schema.Value.Properties["status"]
		Expect(status.Value.Enum).To(ConsistOf("pending", "completed", "failed"))
	})

	It("should require the create payment fields", func() {
		schema := doc.Components.Schemas["CreatePaymentRequest"]
		Expect(schema).NotTo(BeNil())
		Expect(schema.Value.Required).To(ConsistOf("order_id", "amount", "currency", "customer_email"))
	})

	It("should exempt provider callbacks from bearer auth", func() {
		operation := doc.Paths.Find("/webhooks/{gateway}").Post
		Expect(operation).NotTo(BeNil())
		Expect(operation.Security).NotTo(BeNil())
		Expect(*operation.Security).To(BeEmpty())
	})
})
