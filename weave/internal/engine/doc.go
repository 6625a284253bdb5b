// Package engine orchestrates a weave pass.
//
// Transformation pipeline:
//  1. Link the module, reject modules that are already woven
//  2. Scan for extension points and build per-kind worklists
//  3. Run the weavers in fixed order: state, access, preinit, init,
//     method, async, property get, property set, event add, event remove
//  4. Write the cached descriptors, annotations and registrations into
//     static initializers
//  5. Stamp the module as woven, relink and validate
package engine
