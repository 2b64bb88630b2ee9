package idea

import _ "embed"

// ideaSchema validates the model's JSON before it is allowed to drive the
// rest of the pipeline.
//
//go:embed idea.schema.json
var ideaSchema []byte
