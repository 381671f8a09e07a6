package codec

import "encoding/hex"

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// Golden streams produced by reference encoders.
var (
	mszipBlock1 = mustHex("" +
		"434bf30d8ef20c5048cac94fce56c8cf4bb552084e4c4b75c92c4ec664e829f88e2a26573100")

	mszipBlock2 = mustHex("" +
		"434b83282b29cf57284a4d4b2d2a56484a4cceb622cad821a71500")

	bzip2Stream = mustHex("" +
		"425a6839314159265359f74764230000747980ffffffffffffffff9badde5000083000b581a94340c80d0d34069a3132" +
		"68d3468c20343264001120982311a69a1843401a1a032034060434640a955000d00683400000034068000fd534693f61" +
		"c02e8c22681459869d4691e8234ea25553aca57b165559762d5bb8ce9bdb4004038840108041894c6aad917cb997633b" +
		"3a2200821008351badbf00103b65ed9b776fe1c5fe5cfcfd35248667d91422e08a11648b44508a11423f08b247e916e4" +
		"7f11508d223048b445422ec8be2367fc5dc914e14243dd1d908c")

	lzxVerbatim = mustHex("" +
		"0010e41d4444444444444044080088888888888888888888888888888888888888888888888888888888888888888888" +
		"888888888888888888888888888888888888888888888888888888888888888888888888888888888888888888888888" +
		"888888888888888888888888888888888888888888888888888888888888888888888888888888888888888884884444" +
		"444444444044090099999999999999999999999999999999999999999999999999999999999999999999999999999999" +
		"999999999999999999999999999999999999999999999099000000000000000000000000000000000000000000000000" +
		"000000000000000000000000000000000000000000000000000000000000040044444444444440440e00eeeee0ee0000" +
		"000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000" +
		"000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000" +
		"00000000000000000000000000000000000000000000d8a9d66c255ae7a69063a54c09d382ac205fd9a9776c955a9b3e" +
		"9b20579d0d4b8dcab96fec5809b2829c2d5b2b9007fdfce0831f7ef0c10f3ff8e0071ffcf083a55acba2b8206ddd3b36" +
		"825c72c5ddb7d2ed350bf1beb5206d5d0bb7829c76dfdcb217a4114558b6576f0599df929767ff2be0071ffcf0830f7e" +
		"f8c102340203c181b0203c681322850a21c3e8b0427c1223c589b122bc6833628d1a23c7e8b182fc2243c991b2243869")

	lzxMixed = mustHex("" +
		"001044064444444444444044080088888888888888888888888888888888888888888888888888888888888888888888" +
		"888888888888888888888888888888888888888888888888888888888888888888888888888888888888888888888888" +
		"888888888888888888888888888888888888888888888888888888888888888888888888888888888888888884884444" +
		"444444444044090099999999999999999999999999999999999999999999999999999999999999999999999999999999" +
		"999999999999999999999999999999999999999999999099000000000000000000000000000000000000000000000000" +
		"000000000000000000000000000000000000000000000000000000000000040044444444444440440e00eeeee0ee0000" +
		"000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000" +
		"000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000" +
		"00000000000000000000000000000000000000000000d8a9d66c255ae7a69063a54c09d382ac205fd9a9776c955a9b3e" +
		"9b20579d0d4b8dcab96fec5809b2829c2d5b2b9007fdfce0301c030000302b0000000c000000010000002f2053656375" +
		"524f4d2037202f2053746172466f7263652033202d2d20536166654469736320322e3035202f2053656375524f000020" +
		"e82888888888888880880000000000000000000000000000000000000000000000000000000000000000000000000000" +
		"000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000" +
		"000000000000000000000000000000000000000000000000000000000000000000000000000000000000080088888888" +
		"888880880000000000000000000000000000000000000000000000000000000000000000000000000000000000000000" +
		"000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000" +
		"000000000000000000000000000000000000000000000000000000000800888888888888808800000000000000000000" +
		"000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000" +
		"000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000000" +
		"0000000000000000000000000000000000000000c10f3ff8e0071ffcaa83a2a520cbddb8366d5c3bc582b772eddd0bd2" +
		"be3520f15db5b76d9c0bdf82b276a4dc4517b6116f589957920567df2b9707fffce0831f7ef0c10f34f80302810220c1" +
		"68b0223c0a13c385b0217ce82342891222c568b162bc1a33c78db123fce84382912224c969b20038")

	lzxAligned = mustHex("" +
		"002000266d8000210000020040430000aa0aaaaaaaaaaaaaaaaf1aa8aaaa05a85055a8483a00aad6b7aabb5ba0aa0000" +
		"000000000000000000000000000000080000110000000000000000008000080010800602000000000102000000000000" +
		"00000000000008000000000000000011080040080001000000000000000000000c0000000000000000000c0000000000" +
		"cc00a276da5ec280fa9c82356680d22093cb581822f5b071c314542008017f13c23e34078fb668787a310df2ec45921b" +
		"7ae25e003084f4233b7070c75dd2d3738532952a5aac7bb92c06b499d96a87bb9d2e7abcfcf93008c4a11a8b48382a93" +
		"c95c8eb33fd046333a956b95b157d56697bb5f6f87c1cf17318f205110d12184bf7b3fea8050")

	quantumStream = mustHex("" +
		"d161627e1a5f292a2f8b45efce4612ed12a0f3e64f7b0f1bb4712ae7dbc3f2a955135551f96a2566215f8d3d869aa1c1" +
		"d1bf63a51dd30167ac46e90a744e0550ad45c3e3485b90dcf335b59fc07af10def7ae4a9645fad2f93a79c3694f7f2ff" +
		"8d0d77e018b07c4b2005c48a5003610b28eab148c73739bac355eea49d8458a6040c9068487c5589d9870eea2f7b2560" +
		"6bb5803e5deee32c50668fa19074b2815f81a87e4df8018a11279afe6d0acba346ae04f744d95470d1bf2f36114ba063" +
		"96f730406a381b4fc13688974a03b26ccbfe0f9c3fd15b366a2a28d522bb6d5f38f09980ce93079d1fe42d9e6c9cc0b6" +
		"19d8623b65eac684ba920deb5c36014b843bb75cd264b6cafa42c5b45ab62d32d55c9f15bb77bf836873ec49b7b36bb0" +
		"cc2dd979848b271939f3038a292ccaa5a1000000")

	szddFile = mustHex("" +
		"535a444488f027334154aa000000ff524541444d452e54ff585420666f722049ff4e5354414c4c2e45ff58450d0a436f" +
		"7079ff2070726f74656374ff696f6e20746573747f20646973632e200c0fe01e0f300f420f540f660f0d0a450f4f460d" +
		"0a")

	quantumPlain = mustHex("" +
		"5175616e74756d2062792044617669642053746166666f72643b20636162696e6574732066726f6d2074686520313939" +
		"30732e205175616e74756d2062792044617669642053746166666f72643b20636162696e6574732066726f6d20746865" +
		"2031393930732e205175616e74756d2062792044617669642053746166666f72643b20636162696e6574732066726f6d" +
		"207468652031393930732e205175616e74756d2062792044617669642053746166666f72643b20636162696e65747320" +
		"66726f6d207468652031393930732e205175616e74756d2062792044617669642053746166666f72643b20636162696e" +
		"6574732066726f6d207468652031393930732e20a54dca182530bb1d6d132cded6237b2ed91e3f721fcb1971174494d6" +
		"493c9d5c3460be31201e69fedaa0eee8b9997f5c7c2999fdafe593253cd654af4dfad71427a0aeb3fee9232f8af2211f" +
		"9ee491c5b10becb5563bfc1e6f93427ecbc8fe2955e5cd8e46dc8ed4b7c2764d2a5a4d767706f85d8690024ad6bda340" +
		"1be9c8cbccc935f6cd1f61226ae15338ae1a34004d33ba0d246ac04c81b1baf23e3bf9eef5f79f2b4934af87f5520b69" +
		"b94b0d982e85bb55b672a872637acd7466fcb60e0e8ff18463b0e4b25361666544697363205361666544697363205361" +
		"666544697363215361666544697363205361666544697363205361666544697363215361666544697363205361666544" +
		"69736320536166654469736321")
)
