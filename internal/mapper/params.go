package mapper

import "github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/types"

// Output parameters. Ranges follow the remote engine's input conventions;
// pose ranges are wide enough to never clip a tracked head.
var (
	ParamMouthSmile     = types.ParameterDef{ID: "MouthSmile", Min: -1, Max: 1}
	ParamMouthOpen      = types.ParameterDef{ID: "MouthOpen", Min: 0, Max: 1}
	ParamVoiceVolume    = types.ParameterDef{ID: "VoiceVolumePlusMouthOpen", Min: 0, Max: 1}
	ParamVoiceFrequency = types.ParameterDef{ID: "VoiceFrequencyPlusMouthSmile", Min: -1, Max: 1}
	ParamBrows          = types.ParameterDef{ID: "Brows", Min: -1, Max: 1}
	ParamBrowLeftY      = types.ParameterDef{ID: "BrowLeftY", Min: -1, Max: 1}
	ParamBrowRightY     = types.ParameterDef{ID: "BrowRightY", Min: -1, Max: 1}
	ParamEyeOpenLeft    = types.ParameterDef{ID: "EyeOpenLeft", Min: 0, Max: 1, Default: 1}
	ParamEyeOpenRight   = types.ParameterDef{ID: "EyeOpenRight", Min: 0, Max: 1, Default: 1}
	ParamEyeLeftX       = types.ParameterDef{ID: "EyeLeftX", Min: -1, Max: 1}
	ParamEyeLeftY       = types.ParameterDef{ID: "EyeLeftY", Min: -1, Max: 1}
	ParamEyeRightX      = types.ParameterDef{ID: "EyeRightX", Min: -1, Max: 1}
	ParamEyeRightY      = types.ParameterDef{ID: "EyeRightY", Min: -1, Max: 1}
	ParamCheekPuff      = types.ParameterDef{ID: "CheekPuff", Min: 0, Max: 1}
	ParamFacePositionX  = types.ParameterDef{ID: "FacePositionX", Min: -100, Max: 100}
	ParamFacePositionY  = types.ParameterDef{ID: "FacePositionY", Min: -100, Max: 100}
	ParamFacePositionZ  = types.ParameterDef{ID: "FacePositionZ", Min: -200, Max: 200}
	ParamFaceAngleX     = types.ParameterDef{ID: "FaceAngleX", Min: -180, Max: 180}
	ParamFaceAngleY     = types.ParameterDef{ID: "FaceAngleY", Min: -180, Max: 180}
	ParamFaceAngleZ     = types.ParameterDef{ID: "FaceAngleZ", Min: -180, Max: 180}
	ParamMouthX         = types.ParameterDef{ID: "lilac_MouthX", Explanation: "mediapipe mouthX", Min: -1, Max: 1, Custom: true}
	ParamBrowsLeftForm  = types.ParameterDef{ID: "lilac_BrowsLeftForm", Explanation: "mediapipe brow form left", Min: -1, Max: 1, Custom: true}
	ParamBrowsRightForm = types.ParameterDef{ID: "lilac_BrowsRightForm", Explanation: "mediapipe brow form right", Min: -1, Max: 1, Custom: true}
)
