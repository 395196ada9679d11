// Package xpath parses and prints the XPath 1.0 dialect stored in form
// properties, extended with hashtag path roots such as #form/question.
//
// Every AST node records the byte span it was parsed from. Rewrites are
// expressed as Edits over those spans and applied with Splice, so bytes
// outside an edited span are reproduced exactly.
package xpath
