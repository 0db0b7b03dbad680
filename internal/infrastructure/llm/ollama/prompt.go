package ollama

const maxNormalizeSnippet = 6000

const recognitionPrompt = `Extract all the text from this image.
Return only the raw text without any additional formatting or explanation.`

func buildNormalizationPrompt(rawText string) string {
	snippet := []rune(rawText)
	if len(snippet) > maxNormalizeSnippet {
		snippet = snippet[:maxNormalizeSnippet]
	}

	return `You extract structured data from purchase receipts.
Analyze the text below and extract:
- store_name: name of the store or business
- total_amount: total amount paid, a number without currency symbols
- currency: currency symbol or code (USD, EUR, $, €)
- date: purchase date in ISO format (YYYY-MM-DD)
- ticket_number: receipt number or transaction id

If the text is NOT a purchase receipt return {"valid": false, "reason": "<short explanation>"}.
If it is a receipt return {"valid": true, "data": {...fields...}}.
Use null for fields that cannot be determined. Be strict: only real receipts are valid.
Return strict JSON only, no markdown.

Receipt text:
` + string(snippet)
}
