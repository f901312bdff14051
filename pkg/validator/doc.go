// Package validator checks job payloads before they reach a broker.
//
// A payload's Validate method lists Rules and hands them to Apply, which
// returns nil or a ValidationErrors value naming every failed field:
//
//	func (p EmailPayload) Validate() error {
//	    return validator.Apply(
//	        validator.ValidEmail("to", p.To),
//	        validator.Required("template", p.Template),
//	    )
//	}
//
// Rules are cheap closures; nothing is evaluated until Apply runs them.
package validator
