package compression

import "sort"

// dictEntry is one static codebook pair.
type dictEntry struct {
	Code   string
	Phrase string
}

// staticDictionary is a fixed codebook of common long phrases seen in
// coding-assistant transcripts, ordered by descending phrase length so that
// longer, more specific phrases are substituted before their substrings.
var staticDictionary = sortedDictionary([]dictEntry{
	{Code: "$C1", Phrase: "I'll help you with that"},
	{Code: "$C2", Phrase: "Let me analyze this step by step"},
	{Code: "$C3", Phrase: "Based on the information provided"},
	{Code: "$C4", Phrase: "Here's what I found"},
	{Code: "$C5", Phrase: "please let me know if you have any questions"},
	{Code: "$C6", Phrase: "I apologize for the confusion"},
	{Code: "$C7", Phrase: "according to the documentation"},
	{Code: "$C8", Phrase: "as shown in the example above"},
	{Code: "$C9", Phrase: "function returns"},
	{Code: "$C10", Phrase: "error message"},
})

func sortedDictionary(entries []dictEntry) []dictEntry {
	sort.Slice(entries, func(i, j int) bool {
		return len(entries[i].Phrase) > len(entries[j].Phrase)
	})
	return entries
}
