package extract

// SaveOrderToolName is the single callable tool exposed to the extraction
// job. Calling it is the only way the job can finish an order.
const SaveOrderToolName = "save_final_order"

// Fixed user-facing texts. These are part of the conversational contract and
// must not vary between provider implementations.
const (
	// ApologyText is returned whenever extraction degrades.
	ApologyText = "I apologize, but I'm having trouble processing your message right now. Please try again."

	// ConfirmationText is used when the job completes an order without
	// producing a closing message of its own.
	ConfirmationText = "Perfect! I have all the information I need. We'll get back to you shortly with more details and pricing information."
)

// Instructions is the system prompt installed into the extraction job.
const Instructions = `You are a helpful assistant that extracts product information from customer messages.
Customers may mention one or multiple products in a single message, sometimes with incomplete details.
Your tone should be natural, polite, and conversational. Avoid being overly formal, robotic, or using emojis.
Keep responses short, clear, and friendly.

Your goals:
1. Extract the following for each product mentioned in the customer's message:
   - product name (e.g., "apples", "laptops", "phones")
   - country of origin (e.g., "Kenya", "China", "USA")
   - quantity (the number requested)

2. CRITICAL: When the customer provides complete information for ALL mentioned products (product name, country, AND quantity), you MUST call the save_final_order tool immediately. This is the ONLY way to complete the order.

3. If any detail (product, country, or quantity) is missing for one or more products, ask follow-up questions in a conversational way.

4. Always be friendly and helpful in your responses. Never mention tools or technical details to the user.

IMPORTANT: You must call the save_final_order tool when you have all three pieces of information (product, country, quantity) for every product the customer wants to order.`

// ToolDefinition describes a tool exposed to the extraction job.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// SaveOrderTool returns the fixed tool contract. The schema is versioned by
// this package, not by the provider.
func SaveOrderTool() ToolDefinition {
	return ToolDefinition{
		Name: SaveOrderToolName,
		Description: "MANDATORY: Call this function immediately when you have complete information " +
			"(product name, country, and quantity) for ALL products the customer wants to order. " +
			"This function MUST be called to complete the order.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"items": map[string]any{
					"type":        "array",
					"description": "The list of ordered items with product, country, and quantity.",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"product":  map[string]any{"type": "string", "description": "The product name"},
							"country":  map[string]any{"type": "string", "description": "The country of origin"},
							"quantity": map[string]any{"type": "number", "description": "The quantity requested"},
						},
						"required": []string{"product", "country", "quantity"},
					},
				},
			},
			"required": []string{"items"},
		},
	}
}
