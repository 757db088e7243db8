// mdpreview-nvim is a Neovim remote plugin that previews the file in the
// current buffer with the same live server as the mdpreview command.
package main

import (
	"go-mdpreview/internal/host"

	"github.com/neovim/go-client/nvim/plugin"
)

func main() {
	plugin.Main(host.Register)
}
