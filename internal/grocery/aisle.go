// Package grocery groups ingredient names into store aisles for display.
// The grocery screen shows the list bucketed by aisle; the assignment is
// derived from the name at render time and never persisted.
package grocery

import "strings"

// Aisle returns the display aisle for an ingredient name. Matching is
// case-insensitive: whole-word lookup first, then substring keywords.
// Unrecognized ingredients land in "Other".
func Aisle(name string) string {
	lowered := strings.ToLower(strings.TrimSpace(name))
	if lowered == "" {
		return "Other"
	}

	// Compound phrases first, so "coconut milk" is Pantry, not Dairy.
	for _, kw := range keywordIndex {
		if strings.Contains(lowered, kw.keyword) {
			return kw.aisle
		}
	}
	for _, word := range strings.Fields(lowered) {
		if aisle, ok := wordIndex[word]; ok {
			return aisle
		}
	}
	return "Other"
}

// Aisles lists the display order for grouped rendering.
func Aisles() []string {
	return []string{"Produce", "Meat & Fish", "Dairy & Eggs", "Bakery", "Pantry", "Spices", "Frozen", "Drinks", "Other"}
}

var wordIndex = buildWordIndex(map[string][]string{
	"Produce": {
		"apple", "apples", "banana", "bananas", "lemon", "lemons", "lime", "limes",
		"tomato", "tomatoes", "onion", "onions", "garlic", "ginger", "potato",
		"potatoes", "carrot", "carrots", "celery", "spinach", "kale", "lettuce",
		"cucumber", "zucchini", "avocado", "mushroom", "mushrooms", "pepper",
		"peppers", "broccoli", "cauliflower", "cilantro", "parsley", "basil",
		"scallions", "leek", "leeks", "cabbage", "eggplant",
	},
	"Meat & Fish": {
		"chicken", "beef", "pork", "lamb", "turkey", "bacon", "sausage", "ham",
		"salmon", "tuna", "shrimp", "cod", "anchovies", "prosciutto", "chorizo",
	},
	"Dairy & Eggs": {
		"milk", "butter", "cream", "yogurt", "cheese", "mozzarella", "parmesan",
		"cheddar", "feta", "ricotta", "eggs", "egg", "mascarpone",
	},
	"Bakery": {
		"bread", "baguette", "tortillas", "pita", "buns", "croissant",
	},
	"Pantry": {
		"flour", "sugar", "rice", "pasta", "spaghetti", "noodles", "lentils",
		"beans", "chickpeas", "oats", "honey", "vinegar", "oil", "tahini",
		"mayonnaise", "mustard", "ketchup", "broth", "stock", "couscous",
		"quinoa", "cornstarch",
	},
	"Spices": {
		"salt", "peppercorns", "cumin", "paprika", "turmeric", "cinnamon",
		"oregano", "thyme", "rosemary", "nutmeg", "cardamom", "coriander",
		"chili", "cayenne", "saffron",
	},
	"Frozen": {
		"frozen",
	},
	"Drinks": {
		"wine", "beer", "juice", "soda", "coffee", "tea",
	},
})

func buildWordIndex(byAisle map[string][]string) map[string]string {
	index := make(map[string]string)
	for aisle, words := range byAisle {
		for _, w := range words {
			index[w] = aisle
		}
	}
	return index
}

// keywordIndex catches multi-word or compound names the word index misses.
// More specific keywords come first.
var keywordIndex = []struct {
	keyword string
	aisle   string
}{
	{"olive oil", "Pantry"},
	{"soy sauce", "Pantry"},
	{"fish sauce", "Pantry"},
	{"tomato paste", "Pantry"},
	{"coconut milk", "Pantry"},
	{"ice cream", "Frozen"},
	{"sour cream", "Dairy & Eggs"},
	{"ground", "Meat & Fish"},
	{"steak", "Meat & Fish"},
	{"fillet", "Meat & Fish"},
	{"berr", "Produce"}, // strawberries, blueberries, ...
}
