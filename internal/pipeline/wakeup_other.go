//go:build !linux

package pipeline

func newWakerImpl() wakerImpl {
	return newChanWaker()
}
