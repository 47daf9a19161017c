// Package knx provides KNX addressing primitives shared by the router.
//
// KNX distinguishes two address spaces on the wire, both 16 bits wide:
//
//   - Individual addresses identify a device: Area.Line.Device (4/4/8 bits).
//   - Group addresses identify a function: Main/Middle/Sub (5/3/8 bits).
//
// A frame's destination carries a one-bit discriminator telling the two apart,
// so this package also offers Address, a tagged union used wherever a
// destination may be either kind.
//
// Example:
//
//	own, err := knx.ParseIndividualAddress("1.1.0")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(own.IsCouplerOrRouter()) // true
//
// # Thread Safety
//
// All types are small immutable values and safe to share between goroutines.
package knx
