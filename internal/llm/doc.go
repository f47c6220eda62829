// Package llm contains adapters for invoking large language models to
// produce tool blueprints. It abstracts away provider-specific APIs and
// normalizes request/response lifecycles for the generator.
package llm
