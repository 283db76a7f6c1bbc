package vm

import (
	"bufio"
	"testing"

	"github.com/mastercactapus/graver/coord"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, r *bufio.Reader, n int) []string {
	t.Helper()
	var res []string
	for i := 0; i < n; i++ {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		res = append(res, line)
	}
	return res
}

func TestDevice_Motion(t *testing.T) {
	d := NewDevice()
	r := bufio.NewReader(d)

	_, err := d.Write([]byte("G91\nG0 X10.000000 C90.000000 F100.000000 S1\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ok\n", "ok\n"}, readLines(t, r, 2))
	assert.Equal(t, coord.Point{X: 10, C: 90}, d.Position())

	_, err = d.Write([]byte("M114\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"X:10.000000 Y:0.000000 Z:0.000000 C:90.000000 Count X:0 Y:0 Z:0\n",
		"ok\n",
	}, readLines(t, r, 2))
}

func TestDevice_Endstops(t *testing.T) {
	d := NewDevice()
	r := bufio.NewReader(d)

	_, err := d.Write([]byte("G0 X5 S1\nM119\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"ok\n",
		"Endstops - X: not stopped, Y: at min stop, Z: at min stop, C: not stopped,\n",
		"ok\n",
	}, readLines(t, r, 3))
}

func TestDevice_Motors(t *testing.T) {
	d := NewDevice()
	r := bufio.NewReader(d)

	_, err := d.Write([]byte("M84 S30\n"))
	require.NoError(t, err)
	readLines(t, r, 1)
	assert.True(t, d.MotorsOn())

	_, err = d.Write([]byte("M18\n"))
	require.NoError(t, err)
	readLines(t, r, 1)
	assert.False(t, d.MotorsOn())
	assert.Equal(t, []string{"M84 S30", "M18"}, d.Received())
}

func TestDevice_Error(t *testing.T) {
	d := NewDevice()
	r := bufio.NewReader(d)

	_, err := d.Write([]byte("G2 X1\n"))
	require.NoError(t, err)
	lines := readLines(t, r, 2)
	assert.Contains(t, lines[0], "Error:")
	assert.Equal(t, "ok\n", lines[1])
}

func TestDevice_Close(t *testing.T) {
	d := NewDevice()
	require.NoError(t, d.Close())

	_, err := d.Write([]byte("M114\n"))
	assert.Error(t, err)

	rwc, err := d.Open("sim", 115200)
	require.NoError(t, err)
	_, err = rwc.Write([]byte("G4 S0\n"))
	assert.NoError(t, err)
}
