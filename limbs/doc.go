/*
Package limbs holds the core types shared by the joint-coordinate record pipeline:
float32 images in HWC layout, flat label vectors grouped into coordinate tuples,
the label geometry transforms that keep labels consistent with image crops and
resizes, and the error taxonomy and leveled logging used by the other packages.

Label vectors are tuple-major.  For num_dims == 3 a label of length 6 is laid out
as [x0, y0, z0, x1, y1, z1].  The x coordinate is paired with image dimension 0
(height) and the y coordinate with image dimension 1 (width), matching how the
labels were normalized when the training data was produced.
*/
package limbs
