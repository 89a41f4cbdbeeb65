// Package extract reads the named variables, the lon/lat track and the global
// attributes out of a downloaded scientific payload.
//
// Values are flattened to one dimension, fill values become JSON nulls and CF
// packing (scale_factor, add_offset) is undone. Variables with a code mapping,
// such as surface_type, are rendered as their descriptions.
package extract
