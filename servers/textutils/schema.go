package textutils

var reverseTextSchema = textSchema("The text to reverse")

var uppercaseTextSchema = textSchema("The text to convert to uppercase")

var lowercaseTextSchema = textSchema("The text to convert to lowercase")

var wordCountSchema = textSchema("The text to count words in")

var characterCountSchema = textSchema("The text to count characters in")

var shuffleTextSchema = textSchema("The text to shuffle")

// textSchema builds the input schema shared by every tool: an object with one required
// string property named text.
func textSchema(description string) []byte {
	return []byte(`
  {
    "type": "object",
    "properties": {
      "text": {
        "type": "string",
        "description": "` + description + `"
      }
    },
    "required": ["text"]
  }
`)
}
