package tools

import "google.golang.org/genai"

// Tool names the agent may call.
const (
	AddToOrder           = "addToOrder"
	RemoveFromOrder      = "removeFromOrder"
	RevealSecretMenu     = "revealSecretMenu"
	CreateCustomBurger   = "createCustomBurger"
	VisualizeIngredient  = "visualizeIngredient"
	GenerateOrderPreview = "generateOrderPreview"
	FinishOrder          = "finishOrder"
)

// Declarations describes the kiosk tools. Item names are constrained to the
// orderable menu.
func Declarations(menu []string) []*genai.FunctionDeclaration {
	itemName := func() *genai.Schema {
		return &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"itemName": {
					Type:        genai.TypeString,
					Description: "Name of the item as listed on the menu.",
					Enum:        append([]string(nil), menu...),
				},
			},
			Required: []string{"itemName"},
		}
	}
	empty := func() *genai.Schema {
		return &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
	}

	return []*genai.FunctionDeclaration{
		{
			Name:        AddToOrder,
			Description: "Adds an item to the current order. Use the exact name from the menu.",
			Parameters:  itemName(),
		},
		{
			Name:        RemoveFromOrder,
			Description: "Removes an item from the current order. Use the exact name from the menu.",
			Parameters:  itemName(),
		},
		{
			Name: RevealSecretMenu,
			Description: "Reveals the secret menu ingredients on the physical board. Once you're in the secret menu, you can't go back. " +
				"Silently call this function IMMEDIATELY if the user asks about the secret menu, custom burgers, or wants to see weird ingredients. " +
				"Do not mention that you're calling the function.",
			Parameters: empty(),
		},
		{
			Name:        CreateCustomBurger,
			Description: "Creates a 'Secret Menu' custom burger stack with any list of ingredients the user wants.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"ingredients": {
						Type:        genai.TypeArray,
						Items:       &genai.Schema{Type: genai.TypeString},
						Description: "List of ingredients requested by the user.",
					},
				},
				Required: []string{"ingredients"},
			},
		},
		{
			Name: VisualizeIngredient,
			Description: "Visualizes a single ingredient. Silently call this function IMMEDIATELY when the user mentions an ingredient. " +
				"Do NOT talk out loud about this tool.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"ingredient": {
						Type:        genai.TypeString,
						Description: "The name of the ingredient to visualize (e.g. 'null pointer', 'corrupted texture', 'pixel').",
					},
				},
				Required: []string{"ingredient"},
			},
		},
		{
			Name: GenerateOrderPreview,
			Description: "Generates an image of the current order. Silently call this AUTOMATICALLY when the user seems to be finished ordering, " +
				"BEFORE asking for final confirmation. Do NOT discuss this tool with the user.",
			Parameters: empty(),
		},
		{
			Name: FinishOrder,
			Description: "Completes the order when the user explicitly confirms they are done. " +
				"Call this function ONLY after 'generateOrderPreview' has been called AND the user has confirmed.",
			Parameters: empty(),
		},
	}
}
