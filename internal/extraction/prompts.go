package extraction

import (
	"fmt"
	"strings"

	"github.com/Threadigit/BillDrop/internal/core"
)

// Input is the slice of an email the extraction stages look at
type Input struct {
	ID      string
	Subject string
	From    string
	Body    string
	// Hint is the service name the candidate filter extracted, if any
	Hint string
}

// InputFromEmail builds an extraction input from a filtered email
func InputFromEmail(e core.FilteredEmail) Input {
	return Input{
		ID:      e.ID,
		Subject: e.Subject,
		From:    e.From,
		Body:    e.Body,
		Hint:    e.ExtractedServiceName,
	}
}

const extractionRules = `IMPORTANT RULES:
1. Look for ANY payment, receipt, invoice, or billing email.
2. Pay attention to CURRENCY symbols: $ (USD), £ (GBP), € (EUR), ₦ (NGN), ¥ (JPY), ₹ (INR). Currency is a 3-letter ISO 4217 code; default to USD if uncertain.
3. Extract the service/company name from the sender or email content, not the payment processor (Apple, Google Play, PayPal, Stripe) when the actual product is named.
4. If you see "monthly", "annual", "subscription", "recurring", "renews" it is likely a subscription. billingCycle is exactly one of "weekly", "monthly", "yearly"; use "monthly" when unsure.
5. When a receipt shows both a one-time or prorated charge and a recurring price (e.g. "$15.99/month"), amount is the recurring price.
6. nextBillingDate comes from phrases such as "renews on", "next billing date", "next payment", "auto-renews", "next renewal"; format YYYY-MM-DD, or null.
7. cancellationUrl is the link behind text such as "cancel", "manage subscription", "manage membership", "unsubscribe from plan"; null if absent.
8. description is a short summary of the plan, e.g. "Premium plan" or "Free trial"; mention "trial" when the email is about a trial.
9. Even one-time purchases from subscription services (like Suno, Spotify, Netflix) should be reported.
10. Be lenient: when the email looks like billing but details are unclear, report it with a low confidence rather than omitting it.`

const itemShape = `{
  "isSubscription": true/false,
  "serviceName": "Company Name",
  "description": "Short plan description" | null,
  "amount": 9.99,
  "currency": "USD",
  "billingCycle": "monthly" | "yearly" | "weekly",
  "nextBillingDate": "YYYY-MM-DD" | null,
  "cancellationUrl": "url" | null,
  "confidence": 0.0 to 1.0
}`

// SingleSystemPrompt instructs the model to extract one email
const SingleSystemPrompt = `You are an AI that extracts subscription/billing information from emails.

Your job: Determine if this email is about a recurring subscription or a purchase from a subscription service, and extract details.

` + extractionRules + `

Return ONLY valid JSON:
` + itemShape + `

If NOT a subscription or billing email, return: {"isSubscription": false}`

// BatchSystemPrompt instructs the model to extract several emails at once
const BatchSystemPrompt = `You are an AI that extracts subscription/billing information from several emails at once.

Each email is delimited by "=== EMAIL id=<id> ===". Analyze every email independently.

` + extractionRules + `

Return ONLY valid JSON of the form {"results": [ ... ]} with exactly one entry per email, each entry carrying the email's "id" and these fields:
` + itemShape + `

For an email that is NOT a subscription or billing email, return {"id": "<id>", "isSubscription": false}.`

// BuildSinglePrompt renders the user message for one email
func BuildSinglePrompt(in Input, body string) string {
	var b strings.Builder
	b.WriteString("Email:\n")
	writeEmail(&b, in, body)
	b.WriteString("\nExtract subscription/billing info and return JSON.")
	return b.String()
}

// BuildBatchPrompt renders the user message for several emails. bodies holds
// the prepared body of each input, in order.
func BuildBatchPrompt(inputs []Input, bodies []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze these %d emails:\n\n", len(inputs))
	for i, in := range inputs {
		fmt.Fprintf(&b, "=== EMAIL id=%s ===\n", in.ID)
		writeEmail(&b, in, bodies[i])
		b.WriteString("\n")
	}
	b.WriteString("Extract subscription/billing info for every email and return JSON.")
	return b.String()
}

func writeEmail(b *strings.Builder, in Input, body string) {
	fmt.Fprintf(b, "Subject: %s\n", in.Subject)
	fmt.Fprintf(b, "From: %s\n", in.From)
	if in.Hint != "" {
		fmt.Fprintf(b, "Likely service: %s\n", in.Hint)
	}
	fmt.Fprintf(b, "Content: %s\n", body)
}
