package dataset

import "strings"

// StopSequence ends a generation: the model is asked to stop as soon as it
// starts a new question block.
const StopSequence = "Question:"

// exemplar is one built-in fewshot demonstration.
type exemplar struct {
	question string
	answer   string
}

// Built-in demonstrations for the fewshot block. Order matters: a fewshot
// count of k selects the first k entries, so prompts are reproducible.
var exemplars = []exemplar{
	{
		question: "Do hamsters provide food for any animals?",
		answer:   "Hamsters are prey animals. Prey are food for predators. So the final answer is yes.",
	},
	{
		question: "Could a llama birth twice during the War in Vietnam (1945-46)?",
		answer:   "The War in Vietnam lasted around 6 months. The gestation period for a llama is 11 months. So the final answer is no.",
	},
	{
		question: "Would a pear sink in water?",
		answer:   "The density of a pear is about 0.6 g/cm^3, which is less than water. Objects less dense than water float. So the final answer is no.",
	},
	{
		question: "Is it common to see frost during some college commencements?",
		answer:   "College commencements can happen in December, May, and June. December is in the winter, so there can be frost. So the final answer is yes.",
	},
	{
		question: "Hydrogen's atomic number squared exceeds number of Spice Girls?",
		answer:   "Hydrogen has an atomic number of 1. 1 squared is 1. There are 5 Spice Girls. So the final answer is no.",
	},
	{
		question: "Could Brooke Shields succeed at University of Pennsylvania?",
		answer:   "Brooke Shields went to Princeton University, which is about as academically rigorous as the University of Pennsylvania. So the final answer is yes.",
	},
}

// MaxFewshot is the largest supported fewshot count.
func MaxFewshot() int { return len(exemplars) }

// PromptBuilder renders prompts with a fixed fewshot demonstration block.
type PromptBuilder struct {
	demo string
}

// NewPromptBuilder selects the first fewshot demonstrations. Counts beyond
// MaxFewshot are clamped.
func NewPromptBuilder(fewshot int) *PromptBuilder {
	if fewshot < 0 {
		fewshot = 0
	}
	if fewshot > len(exemplars) {
		fewshot = len(exemplars)
	}

	var b strings.Builder
	for _, ex := range exemplars[:fewshot] {
		b.WriteString("Question: ")
		b.WriteString(ex.question)
		b.WriteString("\nAnswer: ")
		b.WriteString(ex.answer)
		b.WriteString("\n\n")
	}
	return &PromptBuilder{demo: b.String()}
}

// Render produces the full prompt for one example: the demonstration block
// followed by the test question with an open answer slot.
func (p *PromptBuilder) Render(ex Example) string {
	var b strings.Builder
	b.WriteString(p.demo)
	b.WriteString("Question: ")
	b.WriteString(ex.Question)
	b.WriteString("\nAnswer:")
	return b.String()
}
